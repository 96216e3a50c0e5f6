package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cognicore/sentiprep/pkg/sentiprep/internalerr"
	"github.com/cognicore/sentiprep/pkg/sentiprep/model"
)

type nodeKind uint8

const (
	kindObject nodeKind = iota
	kindArray
	kindString
	kindScalar
	kindNull
)

// jsonNode is one value of the parsed document. Children are referenced by
// index into the node table so traversal never needs recursion.
type jsonNode struct {
	kind  nodeKind
	keys  []string // object member names, in input order
	kids  []int    // object member values or array items
	str   string
	raw   string // compact JSON text of the whole value
	depth int
}

type frame struct {
	id        int
	start     int64
	expectKey bool
	key       string
}

// parseJSON builds an ordered node table from data with an explicit stack,
// rejecting nesting deeper than maxDepth.
func parseJSON(data []byte, maxDepth int) ([]jsonNode, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var nodes []jsonNode
	var stack []frame
	rootDone := false

	for {
		off := dec.InputOffset()
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: json: %v", internalerr.ErrFormat, err)
		}
		if rootDone {
			return nil, fmt.Errorf("%w: json: trailing data after top-level value", internalerr.ErrFormat)
		}

		if n := len(stack); n > 0 {
			top := &stack[n-1]
			if d, ok := tok.(json.Delim); ok && (d == '}' || d == ']') {
				nodes[top.id].raw = compactRaw(data[top.start:dec.InputOffset()])
				stack = stack[:n-1]
				rootDone = len(stack) == 0
				continue
			}
			if nodes[top.id].kind == kindObject && top.expectKey {
				top.key, _ = tok.(string)
				top.expectKey = false
				continue
			}
		}

		id := len(nodes)
		nodes = append(nodes, jsonNode{depth: len(stack)})
		if n := len(stack); n > 0 {
			top := &stack[n-1]
			parent := &nodes[top.id]
			if parent.kind == kindObject {
				parent.keys = append(parent.keys, top.key)
				top.expectKey = true
			}
			parent.kids = append(parent.kids, id)
		}

		switch v := tok.(type) {
		case json.Delim:
			if len(stack) >= maxDepth {
				return nil, fmt.Errorf("%w: json nesting deeper than %d", internalerr.ErrFormat, maxDepth)
			}
			f := frame{id: id, start: off}
			if v == '{' {
				nodes[id].kind = kindObject
				f.expectKey = true
			} else {
				nodes[id].kind = kindArray
			}
			stack = append(stack, f)
			continue
		case string:
			nodes[id].kind = kindString
			nodes[id].str = v
		case nil:
			nodes[id].kind = kindNull
		default:
			nodes[id].kind = kindScalar
			nodes[id].str = fmt.Sprint(v)
		}
		nodes[id].raw = compactRaw(data[off:dec.InputOffset()])
		rootDone = len(stack) == 0
	}

	if len(stack) > 0 || len(nodes) == 0 {
		return nil, fmt.Errorf("%w: json: unexpected end of input", internalerr.ErrFormat)
	}
	return nodes, nil
}

// compactRaw trims the separators the decoder leaves before a value and
// compacts the remainder.
func compactRaw(b []byte) string {
	b = bytes.TrimLeft(b, " \t\r\n,:")
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return string(bytes.TrimSpace(b))
	}
	return buf.String()
}

// extractJSON walks the document depth-first in input order. An object with
// a recognized string field becomes one record and is not descended into;
// every other container has its children visited. Strings directly inside a
// top-level array are records of their own. Each candidate item, blank or
// not, takes the next 1-based RowField number, as CSV data rows do.
func (e *Extractor) extractJSON(text string) ([]model.SourceRecord, error) {
	nodes, err := parseJSON([]byte(text), e.limits.MaxDepth)
	if err != nil {
		return nil, err
	}

	root := nodes[0]
	if root.kind == kindArray && len(root.kids) > e.limits.MaxRows {
		return nil, fmt.Errorf("%w: %d top-level items exceeds %d", internalerr.ErrSizeLimit, len(root.kids), e.limits.MaxRows)
	}
	if root.kind != kindArray && root.kind != kindObject {
		return nil, fmt.Errorf("%w: top-level value is not an object or array", internalerr.ErrNoTextField)
	}

	var records []model.SourceRecord
	items := 0
	visited := make([]bool, len(nodes))
	stack := []int{0}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		n := &nodes[id]

		switch n.kind {
		case kindObject:
			if rec, ok := e.objectRecord(nodes, n); ok {
				items++
				if rec.Text == "" {
					continue
				}
				rec.Metadata = withRow(rec.Metadata, items)
				records = append(records, rec)
				if len(records) > e.limits.MaxRows {
					return nil, fmt.Errorf("%w: more than %d records", internalerr.ErrSizeLimit, e.limits.MaxRows)
				}
				continue
			}
		case kindString:
			if n.depth == 1 && root.kind == kindArray {
				items++
				if t := Clean(n.str); t != "" {
					records = append(records, model.SourceRecord{Text: t, Metadata: withRow(nil, items)})
				}
			}
			continue
		default:
			if n.kind != kindArray {
				continue
			}
		}
		for i := len(n.kids) - 1; i >= 0; i-- {
			stack = append(stack, n.kids[i])
		}
	}
	return records, nil
}

func (e *Extractor) objectRecord(nodes []jsonNode, obj *jsonNode) (model.SourceRecord, bool) {
	var parts []rankedValue
	var meta model.Metadata
	for i, key := range obj.keys {
		child := &nodes[obj.kids[i]]
		if rank := fieldRank(key); rank >= 0 && child.kind == kindString {
			parts = append(parts, rankedValue{rank: rank, value: child.str})
			continue
		}
		meta = append(meta, model.Field{Key: key, Value: metaValue(child)})
	}
	if len(parts) == 0 {
		return model.SourceRecord{}, false
	}
	// A record whose recognized fields are all blank is reported with empty
	// text so the caller skips it without descending.
	return model.SourceRecord{Text: e.joinText(parts), Metadata: meta}, true
}

// withRow puts the row number first unless the item carries its own row field.
func withRow(meta model.Metadata, row int) model.Metadata {
	if _, ok := meta.Get(RowField); ok {
		return meta
	}
	return append(model.Metadata{{Key: RowField, Value: strconv.Itoa(row)}}, meta...)
}

func metaValue(n *jsonNode) string {
	switch n.kind {
	case kindString, kindScalar:
		return n.str
	case kindNull:
		return ""
	}
	return strings.TrimSpace(n.raw)
}
