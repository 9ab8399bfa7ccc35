// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package source

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"
	"time"

	"github.com/luftsport/nif-cdc/cdc/model"
)

func newReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// changesRequest is the wire shape for GetChanges3/GetChangesLicense/
// GetChangesCompetence2/GetChangesPayments/GetChangesFederation. They all
// share the same (from, to) signature per spec.md S4.1.
type changesRequest struct {
	XMLName struct{}  `xml:"GetChanges"`
	From    time.Time `xml:"From"`
	To      time.Time `xml:"To"`
}

// changeInfo mirrors the source's ChangeInfo element, before MergeResultOf
// normalisation (see original_source/sync.py's _eve_fix_sync).
type changeInfo struct {
	EntityType      string  `xml:"EntityType"`
	ID              int64   `xml:"Id"`
	SequenceOrdinal string  `xml:"SequenceOrdinal"`
	Name            string  `xml:"Name"`
	MergeResultOf   []int64 `xml:"MergeResultOf>int"`
}

// changesEnvelope is the outer Changes element, which the source may send
// back empty (no ChangeInfo children at all) rather than an empty list.
type changesEnvelope struct {
	Changes []changeInfo `xml:"Changes>ChangeInfo"`
}

func (e changesEnvelope) toChangeRecords() []ChangeRecord {
	out := make([]ChangeRecord, 0, len(e.Changes))
	for _, c := range e.Changes {
		seq, err := time.Parse(time.RFC3339Nano, c.SequenceOrdinal)
		if err != nil {
			seq, _ = time.Parse(time.RFC3339, c.SequenceOrdinal)
		}
		out = append(out, ChangeRecord{
			EntityType:      model.EntityKind(c.EntityType),
			EntityID:        c.ID,
			SequenceOrdinal: seq,
			Name:            c.Name,
			MergedFrom:      c.MergeResultOf,
		})
	}
	return out
}

type entityRequest struct {
	XMLName struct{} `xml:"Get"`
	ID      int64    `xml:"Id"`
}

type createUserRequest struct {
	XMLName   struct{} `xml:"CreateIntegrationUser"`
	OrgID     int64    `xml:"OrgId"`
	FirstName string   `xml:"FirstName"`
	LastName  string   `xml:"LastName"`
	Password  string   `xml:"Password"`
}

type helloResponse struct {
	OK bool `xml:"Success"`
}

// decodeGenericXML turns an entity payload into a map keyed by element name,
// without knowing its schema -- the whole point of passing entities through
// unchanged rather than binding them to typed Go structs. Leaf elements
// become strings; elements that repeat under the same parent become a
// []interface{}; elements with children become nested maps. Attributes are
// ignored, since the source's GetXxx payloads carry none of their meaning
// there.
func decodeGenericXML(raw []byte) (Entity, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			v, err := decodeGenericElement(dec, start)
			if err != nil {
				return nil, err
			}
			if m, ok := v.(map[string]interface{}); ok {
				return Entity(m), nil
			}
			return Entity{start.Name.Local: v}, nil
		}
	}
}

// decodeGenericElement consumes everything up to and including the matching
// EndElement for start, and returns either a string (leaf text content) or a
// map[string]interface{} (has child elements).
func decodeGenericElement(dec *xml.Decoder, start xml.StartElement) (interface{}, error) {
	children := map[string]interface{}{}
	var text strings.Builder
	hasChildren := false

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			hasChildren = true
			v, err := decodeGenericElement(dec, t)
			if err != nil {
				return nil, err
			}
			name := t.Name.Local
			switch existing := children[name].(type) {
			case nil:
				children[name] = v
			case []interface{}:
				children[name] = append(existing, v)
			default:
				children[name] = []interface{}{existing, v}
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if t.Name == start.Name {
				if hasChildren {
					return children, nil
				}
				return strings.TrimSpace(text.String()), nil
			}
		}
	}
}
