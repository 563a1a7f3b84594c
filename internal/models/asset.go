package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type AssetStatus string

const (
	AssetStatusActive     AssetStatus = "active"
	AssetStatusInStorage  AssetStatus = "in_storage"
	AssetStatusCheckedOut AssetStatus = "checked_out"
	AssetStatusInTransit  AssetStatus = "in_transit"
	AssetStatusDisposed   AssetStatus = "disposed"
)

type AssetPriority string

const (
	AssetPriorityLow      AssetPriority = "low"
	AssetPriorityMedium   AssetPriority = "medium"
	AssetPriorityHigh     AssetPriority = "high"
	AssetPriorityCritical AssetPriority = "critical"
)

// MetaField is one extra column carried through an import unchanged.
// A slice keeps the original column order, which a map would lose.
type MetaField struct {
	Key   string `json:"key" bson:"key"`
	Value string `json:"value" bson:"value"`
}

// Asset is one tracked object (evidence item, equipment, ...).
// Code and Tag are each unique across the whole store.
type Asset struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Code        string             `json:"code" bson:"code"`
	Tag         string             `json:"tag" bson:"tag"`
	Name        string             `json:"name" bson:"name"`
	ObjectType  string             `json:"object_type" bson:"object_type"`
	Status      AssetStatus        `json:"status" bson:"status"`
	Priority    AssetPriority      `json:"priority" bson:"priority"`
	Location    string             `json:"location,omitempty" bson:"location,omitempty"`
	Custodian   string             `json:"custodian,omitempty" bson:"custodian,omitempty"`
	AcquiredAt  *time.Time         `json:"acquired_at,omitempty" bson:"acquired_at,omitempty"`
	Metadata    []MetaField        `json:"metadata,omitempty" bson:"metadata,omitempty"`
	ImportJobID primitive.ObjectID `json:"import_job_id,omitempty" bson:"import_job_id,omitempty"`
	CreatedBy   primitive.ObjectID `json:"created_by,omitempty" bson:"created_by,omitempty"`
	CreatedAt   time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at" bson:"updated_at"`
}

// ValidAssetStatus reports whether s is one of the accepted status values.
func ValidAssetStatus(s string) bool {
	switch AssetStatus(s) {
	case AssetStatusActive, AssetStatusInStorage, AssetStatusCheckedOut, AssetStatusInTransit, AssetStatusDisposed:
		return true
	}
	return false
}

// ValidAssetPriority reports whether p is one of the accepted priority values.
func ValidAssetPriority(p string) bool {
	switch AssetPriority(p) {
	case AssetPriorityLow, AssetPriorityMedium, AssetPriorityHigh, AssetPriorityCritical:
		return true
	}
	return false
}
