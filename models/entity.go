package models

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EntityKind identifies the type of an extracted entity.
type EntityKind string

const (
	EntityErrorCode EntityKind = "error_code"
	EntityProduct   EntityKind = "product"
	EntityVersion   EntityKind = "version"
)

// Entity is implemented by every extractor output type. Persistence code
// consumes this interface: NaturalKey returns the upsert filter that keeps
// retries and reprocessing from creating duplicate rows.
type Entity interface {
	Kind() EntityKind
	NaturalKey() bson.D
	Score() float64
	SetDocumentID(id primitive.ObjectID)
}

// ErrorCode is a numeric fault code mined from manual text, with the
// description and solution span recovered from its context.
type ErrorCode struct {
	DocumentID  primitive.ObjectID `bson:"document_id,omitempty" json:"document_id"`
	Code        string             `bson:"code" json:"code"`
	Description string             `bson:"description" json:"description"`
	Solution    string             `bson:"solution,omitempty" json:"solution,omitempty"`
	Severity    string             `bson:"severity" json:"severity"`
	Confidence  float64            `bson:"confidence" json:"confidence"`
	SourcePage  int                `bson:"source_page" json:"source_page"`
	Method      string             `bson:"extraction_method" json:"extraction_method"`
}

func (e *ErrorCode) Kind() EntityKind { return EntityErrorCode }

func (e *ErrorCode) NaturalKey() bson.D {
	return bson.D{{Key: "document_id", Value: e.DocumentID}, {Key: "code", Value: e.Code}}
}

func (e *ErrorCode) Score() float64 { return e.Confidence }

func (e *ErrorCode) SetDocumentID(id primitive.ObjectID) { e.DocumentID = id }

// Product is a product identifier (model number) with its manufacturer when
// one could be resolved.
type Product struct {
	DocumentID   primitive.ObjectID `bson:"document_id,omitempty" json:"document_id"`
	Manufacturer string             `bson:"manufacturer,omitempty" json:"manufacturer,omitempty"`
	ModelNumber  string             `bson:"model_number" json:"model_number"`
	Series       string             `bson:"series,omitempty" json:"series,omitempty"`
	Description  string             `bson:"description,omitempty" json:"description,omitempty"`
	Confidence   float64            `bson:"confidence" json:"confidence"`
	SourcePage   int                `bson:"source_page" json:"source_page"`
	Method       string             `bson:"extraction_method" json:"extraction_method"`
}

func (p *Product) Kind() EntityKind { return EntityProduct }

func (p *Product) NaturalKey() bson.D {
	return bson.D{{Key: "manufacturer", Value: p.Manufacturer}, {Key: "model_number", Value: p.ModelNumber}}
}

func (p *Product) Score() float64 { return p.Confidence }

func (p *Product) SetDocumentID(id primitive.ObjectID) { p.DocumentID = id }

// Version is a firmware/software version string with the component it
// applies to when the surrounding text names one.
type Version struct {
	DocumentID primitive.ObjectID `bson:"document_id,omitempty" json:"document_id"`
	Value      string             `bson:"value" json:"value"`
	Component  string             `bson:"component,omitempty" json:"component,omitempty"`
	Context    string             `bson:"context,omitempty" json:"context,omitempty"`
	Confidence float64            `bson:"confidence" json:"confidence"`
	SourcePage int                `bson:"source_page" json:"source_page"`
	Method     string             `bson:"extraction_method" json:"extraction_method"`
}

func (v *Version) Kind() EntityKind { return EntityVersion }

func (v *Version) NaturalKey() bson.D {
	return bson.D{{Key: "document_id", Value: v.DocumentID}, {Key: "value", Value: v.Value}}
}

func (v *Version) Score() float64 { return v.Confidence }

func (v *Version) SetDocumentID(id primitive.ObjectID) { v.DocumentID = id }

// Error code severity constants
const (
	SeverityCritical = "critical"
	SeverityError    = "error"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)
