// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// recordValidate validates inbound records. validator.Validate caches struct
// metadata and is safe for concurrent use.
var recordValidate = validator.New(validator.WithRequiredStructEnabled())

// EntityRecord is an entity as produced by the extraction pipeline.
type EntityRecord struct {
	EntityName  string  `json:"entity_name" yaml:"entity_name" validate:"required,max=1024"`
	EntityType  string  `json:"entity_type" yaml:"entity_type" validate:"required,max=256"`
	Description string  `json:"description" yaml:"description" validate:"max=65536"`
	Confidence  float64 `json:"confidence" yaml:"confidence" validate:"gte=0,lte=1"`
}

// RelationshipRecord is a relationship as produced by the extraction pipeline.
//
// Keywords is a comma or semicolon separated list. A zero Weight means
// DefaultWeight.
type RelationshipRecord struct {
	SrcName     string  `json:"src_name" yaml:"src_name" validate:"required,max=1024"`
	TgtName     string  `json:"tgt_name" yaml:"tgt_name" validate:"required,max=1024"`
	Description string  `json:"description" yaml:"description" validate:"max=65536"`
	Weight      float64 `json:"weight" yaml:"weight" validate:"gte=0"`
	Keywords    string  `json:"keywords" yaml:"keywords" validate:"max=8192"`
}

// Validate checks the record against its schema.
//
// Outputs:
//
//	error - Wraps ErrInvalidRecord with the failing fields, nil if valid.
func (r EntityRecord) Validate() error {
	return validateRecord(r)
}

// Validate checks the record against its schema.
//
// Outputs:
//
//	error - Wraps ErrInvalidRecord with the failing fields, nil if valid.
func (r RelationshipRecord) Validate() error {
	return validateRecord(r)
}

// KeywordList splits Keywords into trimmed, non-empty entries.
func (r RelationshipRecord) KeywordList() []string {
	return ParseKeywords(r.Keywords)
}

// ParseKeywords splits a comma or semicolon separated keyword string.
func ParseKeywords(s string) []string {
	fields := strings.FieldsFunc(s, func(c rune) bool {
		return c == ',' || c == ';'
	})
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			result = append(result, f)
		}
	}
	return result
}

// AddEntityRecord validates rec and registers it.
//
// Outputs:
//
//	EntityID - The new or existing id.
//	error - Wraps ErrInvalidRecord if rec fails validation.
func (e *Engine) AddEntityRecord(rec EntityRecord) (EntityID, error) {
	if err := rec.Validate(); err != nil {
		return 0, err
	}
	return e.AddEntity(rec.EntityName, rec.EntityType, rec.Description, rec.Confidence), nil
}

// AddRelationshipRecord validates rec and adds it.
//
// Outputs:
//
//	RelationshipID - The new id.
//	error - Wraps ErrInvalidRecord if rec fails validation, or
//	ErrEntityNotFound if an endpoint is not registered.
func (e *Engine) AddRelationshipRecord(rec RelationshipRecord) (RelationshipID, error) {
	if err := rec.Validate(); err != nil {
		return 0, err
	}
	id, ok := e.AddRelationship(rec.SrcName, rec.TgtName, rec.Description, rec.Weight, rec.KeywordList())
	if !ok {
		return 0, fmt.Errorf("%w: %s -> %s", ErrEntityNotFound, rec.SrcName, rec.TgtName)
	}
	return id, nil
}

func validateRecord(rec any) error {
	err := recordValidate.Struct(rec)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		parts := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidRecord, strings.Join(parts, "; "))
	}
	return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
}
