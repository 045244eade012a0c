// update.go - Update and replacement document validation

package docstore

import (
	"fmt"
	"strings"
)

// updateOperators lists the field update operators the facade accepts.
var updateOperators = map[string]struct{}{
	"$set":         {},
	"$unset":       {},
	"$inc":         {},
	"$mul":         {},
	"$rename":      {},
	"$min":         {},
	"$max":         {},
	"$currentDate": {},
	"$setOnInsert": {},
	"$push":        {},
	"$pull":        {},
	"$pullAll":     {},
	"$addToSet":    {},
	"$pop":         {},
	"$bit":         {},
}

// hasUpdateOperators reports whether any top-level key of doc is a $-prefixed key.
func hasUpdateOperators(doc Document) bool {
	for _, f := range doc {
		if strings.HasPrefix(f.Key, "$") {
			return true
		}
	}
	return false
}

// prepareUpdate validates an update document made entirely of recognized
// operators, each holding a non-empty document. An operator-free document is
// a replacement, which only single-document operations accept, so here it is
// a ValidationError.
func prepareUpdate(op string, update Document) (Document, error) {
	if len(update) == 0 {
		return nil, &ValidationError{Op: op, Reason: "update document is empty"}
	}
	if !hasUpdateOperators(update) {
		return nil, &ValidationError{
			Op:     op,
			Reason: "update document has no operators; full replacements apply to a single document only",
		}
	}
	if err := checkUniqueKeys(op, update); err != nil {
		return nil, err
	}

	for _, f := range update {
		if !strings.HasPrefix(f.Key, "$") {
			return nil, &ValidationError{
				Op:     op,
				Reason: fmt.Sprintf("update mixes operators and plain field %q", f.Key),
			}
		}
		if _, ok := updateOperators[f.Key]; !ok {
			return nil, &ValidationError{Op: op, Reason: fmt.Sprintf("unknown update operator %q", f.Key)}
		}
		if f.Value.Kind() != KindDocument {
			return nil, &ValidationError{
				Op:     op,
				Reason: fmt.Sprintf("operator %s requires a document, got %s", f.Key, f.Value.Kind()),
			}
		}
		if f.Value.v.(Document).Len() == 0 {
			return nil, &ValidationError{Op: op, Reason: fmt.Sprintf("operator %s has no fields", f.Key)}
		}
	}

	return update, nil
}

// prepareSingleUpdate validates the update of one document. An update is
// either all operators or, with no operator at all, a full replacement;
// replace reports which one doc is.
func prepareSingleUpdate(op string, update Document) (doc Document, replace bool, err error) {
	if len(update) > 0 && !hasUpdateOperators(update) {
		doc, err = prepareReplacement(op, update)
		return doc, true, err
	}
	doc, err = prepareUpdate(op, update)
	return doc, false, err
}

// checkUniqueKeys rejects a document that repeats a top-level field name.
func checkUniqueKeys(op string, doc Document) error {
	seen := make(map[string]struct{}, len(doc))
	for _, f := range doc {
		if _, dup := seen[f.Key]; dup {
			return &ValidationError{Op: op, Reason: fmt.Sprintf("duplicate field %q", f.Key)}
		}
		seen[f.Key] = struct{}{}
	}
	return nil
}

// prepareReplacement validates a replacement document: it must exist and
// must not contain update operators at the top level.
func prepareReplacement(op string, replacement Document) (Document, error) {
	if replacement == nil {
		return nil, &ValidationError{Op: op, Reason: "replacement document is nil"}
	}
	for _, f := range replacement {
		if strings.HasPrefix(f.Key, "$") {
			return nil, &ValidationError{
				Op:     op,
				Reason: fmt.Sprintf("replacement contains update operator %q", f.Key),
			}
		}
	}
	if err := checkUniqueKeys(op, replacement); err != nil {
		return nil, err
	}
	return replacement, nil
}

// prepareInsert validates a document for insertion and assigns its _id.
func prepareInsert(op string, doc Document) (Document, Value, error) {
	if doc == nil {
		return nil, Value{}, &ValidationError{Op: op, Reason: "document is nil"}
	}
	for _, f := range doc {
		if strings.HasPrefix(f.Key, "$") {
			return nil, Value{}, &ValidationError{
				Op:     op,
				Reason: fmt.Sprintf("top-level field %q must not start with $", f.Key),
			}
		}
	}
	if err := checkUniqueKeys(op, doc); err != nil {
		return nil, Value{}, err
	}
	out, id := ensureID(doc)
	return out, id, nil
}
