package layerforge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	placeholderDescription = "description"
	placeholderImage       = "image_URI"
	placeholderName        = "name"
)

type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// Metadata is the per-token record. Field order is the serialized key order.
type Metadata struct {
	Description string      `json:"description"`
	Image       string      `json:"image"`
	Name        string      `json:"name"`
	Attributes  []Attribute `json:"attributes"`
}

// TokenSpec carries the explicit, per-token overrides of the metadata
// defaults. Empty fields fall back to MetadataDefaults.
type TokenSpec struct {
	ID          int
	Name        string
	Description string
	ImageURI    string
}

// MetadataDefaults are the collection-wide fallbacks.
type MetadataDefaults struct {
	CollectionName string
	Description    string
	// Image references become "{ImageBaseURI}/{id}.{ImageExt}" when set.
	ImageBaseURI string
	ImageExt     string
}

func (d MetadataDefaults) Build(spec TokenSpec, sel Selection) Metadata {
	m := Metadata{
		Description: firstNonEmpty(spec.Description, d.Description, placeholderDescription),
		Image:       spec.ImageURI,
		Name:        d.tokenName(spec),
		Attributes:  make([]Attribute, 0, len(sel.Traits)),
	}
	if m.Image == "" && d.ImageBaseURI != "" {
		m.Image = fmt.Sprintf("%s/%d.%s", d.ImageBaseURI, spec.ID, d.ImageExt)
	}
	if m.Image == "" {
		m.Image = placeholderImage
	}
	for _, t := range sel.Traits {
		m.Attributes = append(m.Attributes, Attribute{TraitType: t.Category, Value: t.Value})
	}
	return m
}

func (d MetadataDefaults) tokenName(spec TokenSpec) string {
	switch {
	case spec.Name != "":
		return spec.Name
	case d.CollectionName != "":
		return d.CollectionName + " #" + strconv.Itoa(spec.ID)
	case spec.ID != 0:
		return strconv.Itoa(spec.ID)
	}
	return placeholderName
}

// Encode renders the record as 4-space indented JSON with a trailing newline.
func (m Metadata) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
