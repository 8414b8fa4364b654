package domain

import (
	"encoding/json"
	"fmt"
)

type ItemKind string

const (
	ItemKindStock     ItemKind = "stock"
	ItemKindComposite ItemKind = "composite"
)

// ItemRef identifies what a sale line sells. It is either a StockItemRef or a
// CompositeItemRef; callers switch on the concrete type.
type ItemRef interface {
	ItemID() string
	Kind() ItemKind
	itemRef()
}

type StockItemRef string

func (r StockItemRef) ItemID() string { return string(r) }
func (StockItemRef) Kind() ItemKind   { return ItemKindStock }
func (StockItemRef) itemRef()         {}

type CompositeItemRef string

func (r CompositeItemRef) ItemID() string { return string(r) }
func (CompositeItemRef) Kind() ItemKind   { return ItemKindComposite }
func (CompositeItemRef) itemRef()         {}

// ParseItemRef resolves a wire or storage tag into an ItemRef.
func ParseItemRef(kind ItemKind, id string) (ItemRef, error) {
	if id == "" {
		return nil, fmt.Errorf("item id is required")
	}
	switch kind {
	case ItemKindStock:
		return StockItemRef(id), nil
	case ItemKindComposite:
		return CompositeItemRef(id), nil
	default:
		return nil, fmt.Errorf("unknown item kind %q", kind)
	}
}

type saleLineJSON struct {
	ItemKind ItemKind `json:"item_kind"`
	ItemID   string   `json:"item_id"`
}

func (l SaleLine) MarshalJSON() ([]byte, error) {
	type plain SaleLine
	out := struct {
		plain
		saleLineJSON
	}{plain: plain(l)}
	if l.Item != nil {
		out.ItemKind = l.Item.Kind()
		out.ItemID = l.Item.ItemID()
	}
	return json.Marshal(out)
}

func (l *SaleLine) UnmarshalJSON(data []byte) error {
	type plain SaleLine
	in := struct {
		*plain
		saleLineJSON
	}{plain: (*plain)(l)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.ItemID == "" {
		l.Item = nil
		return nil
	}
	ref, err := ParseItemRef(in.ItemKind, in.ItemID)
	if err != nil {
		return err
	}
	l.Item = ref
	return nil
}
