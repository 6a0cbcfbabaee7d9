// api/schemas/selector.go
package schemas

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
)

// Rect is the bounding geometry of an on-screen element, in device pixels.
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Selector is the structural description of a remote UI element. It carries
// stable identity fields (ViewID, Text, ContentDesc, ClassName) and volatile
// fields (geometry and capability flags). Identity fields alone feed the
// stable hash so a relocated element is still recognized by failure memory.
type Selector struct {
	ViewID      string `json:"view_id,omitempty"`
	Text        string `json:"text,omitempty"`
	ContentDesc string `json:"content_desc,omitempty"`
	ClassName   string `json:"class_name,omitempty"`
	WindowID    int    `json:"window_id,omitempty"`
	Bounds      *Rect  `json:"bounds,omitempty"`

	IsClickable     bool `json:"is_clickable,omitempty"`
	IsEditable      bool `json:"is_editable,omitempty"`
	IsLongClickable bool `json:"is_long_clickable,omitempty"`
}

// selectorIdentity is the canonical form hashed by StableHash. Field order is
// fixed by the struct, which keeps the JSON byte stream deterministic.
type selectorIdentity struct {
	ViewID      string `json:"view_id"`
	Text        string `json:"text"`
	ContentDesc string `json:"content_desc"`
}

// StableHash returns a hex SHA-1 over the selector's identity fields only.
// Geometry and capability flags are excluded on purpose: they change when an
// element moves or re-renders, and must not defeat failure-memory lookups.
func (s Selector) StableHash() string {
	identity := selectorIdentity{
		ViewID:      s.ViewID,
		Text:        s.Text,
		ContentDesc: s.ContentDesc,
	}
	// Marshaling a flat struct of strings cannot fail.
	b, _ := json.Marshal(identity)
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

// Tappable reports whether the element advertises a capability that satisfies
// a tap or long-click verb.
func (s Selector) Tappable() bool {
	return s.IsClickable || s.IsLongClickable
}

// Describe returns the most identifying field available, for log lines.
func (s Selector) Describe() string {
	switch {
	case s.ViewID != "":
		return s.ViewID
	case s.ContentDesc != "":
		return s.ContentDesc
	case s.Text != "":
		return s.Text
	default:
		return "<anonymous node>"
	}
}
