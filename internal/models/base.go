package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IBase is implemented by all persisted documents so the db helpers can
// mint fresh identifiers on insert (and re-mint on duplicate-key retry).
type IBase interface {
	GenID()
	GenIDIfEmpty()
	GetID() primitive.ObjectID
}

type Base struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
}

func (m *Base) GenID() {
	m.ID = primitive.NewObjectID()
}

func (m *Base) GenIDIfEmpty() {
	if m.ID.IsZero() {
		m.GenID()
	}
}

func (m *Base) GetID() primitive.ObjectID {
	return m.ID
}

func NewBase() Base {
	return Base{
		ID: primitive.NewObjectID(),
	}
}
