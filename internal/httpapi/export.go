// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package httpapi

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/csa-systems/csa-engine/internal/model"
)

// exportDoc is the JSON export schema spec.md §6 names:
// {system, components[], relationships[]}.
type exportDoc struct {
	System        *model.System         `json:"system"`
	Components    []*model.Component    `json:"components"`
	Relationships []*model.Relationship `json:"relationships"`
}

// csvSectionMarker separates the components.csv and relationships.csv
// halves of the two-file layout spec.md names when both travel as a
// single HTTP response body rather than as two files on disk.
const csvSectionMarker = "---relationships---"

var componentCSVHeader = []string{"id", "system_id", "name", "kind", "current_value", "status", "properties", "metadata"}
var relationshipCSVHeader = []string{"id", "system_id", "source_id", "target_id", "kind", "weight", "properties", "metadata"}

func encodeExport(format string, sys *model.System, components []*model.Component, relationships []*model.Relationship) ([]byte, string, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(exportDoc{System: sys, Components: components, Relationships: relationships}, "", "  ")
		return data, "application/json", err
	case "csv":
		data, err := encodeCSV(components, relationships)
		return data, "text/csv", err
	case "graphml":
		data, err := encodeGraphML(sys, components, relationships)
		return data, "application/xml", err
	default:
		return nil, "", model.NewError(model.KindInvalidArgument, "unknown export format: "+format, nil)
	}
}

func decodeImport(format string, data []byte) (*model.System, []*model.Component, []*model.Relationship, error) {
	switch format {
	case "json":
		var doc exportDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, nil, nil, model.NewError(model.KindInvalidArgument, "invalid json import: "+err.Error(), nil)
		}
		return doc.System, doc.Components, doc.Relationships, nil
	case "csv":
		return decodeCSV(data)
	case "graphml":
		return decodeGraphML(data)
	default:
		return nil, nil, nil, model.NewError(model.KindInvalidArgument, "unknown import format: "+format, nil)
	}
}

func encodeCSV(components []*model.Component, relationships []*model.Relationship) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(componentCSVHeader); err != nil {
		return nil, err
	}
	for _, c := range components {
		props, err := json.Marshal(c.Properties)
		if err != nil {
			return nil, err
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return nil, err
		}
		row := []string{
			c.ID.String(), c.SystemID.String(), c.Name, string(c.Kind),
			strconv.FormatFloat(c.State.CurrentValue, 'g', -1, 64), string(c.State.Status),
			string(props), string(meta),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()

	buf.WriteString(csvSectionMarker + "\n")

	if err := w.Write(relationshipCSVHeader); err != nil {
		return nil, err
	}
	for _, r := range relationships {
		props, err := json.Marshal(r.Properties)
		if err != nil {
			return nil, err
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return nil, err
		}
		row := []string{
			r.ID.String(), r.SystemID.String(), r.SourceID.String(), r.TargetID.String(), string(r.Kind),
			strconv.FormatFloat(r.Weight, 'g', -1, 64), string(props), string(meta),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func decodeCSV(data []byte) (*model.System, []*model.Component, []*model.Relationship, error) {
	parts := strings.SplitN(string(data), csvSectionMarker+"\n", 2)
	if len(parts) != 2 {
		return nil, nil, nil, model.NewError(model.KindInvalidArgument, "csv import missing relationships section marker", nil)
	}

	components, err := decodeComponentCSV(parts[0])
	if err != nil {
		return nil, nil, nil, err
	}
	relationships, err := decodeRelationshipCSV(parts[1])
	if err != nil {
		return nil, nil, nil, err
	}

	sys, err := synthesizeImportedSystem(components)
	if err != nil {
		return nil, nil, nil, err
	}
	return sys, components, relationships, nil
}

// synthesizeImportedSystem mints a System row for a CSV import, which
// carries no system record of its own. Every row read off the wire
// must already agree on a single system_id, since decodeComponentCSV stamps
// one per row straight from the file, so a mismatch means the import
// spans more than one system and can't be reconciled into a single graph.
func synthesizeImportedSystem(components []*model.Component) (*model.System, error) {
	sys := model.NewSystem("Imported System", "")
	if len(components) == 0 {
		return sys, nil
	}
	sys.ID = components[0].SystemID
	for _, c := range components[1:] {
		if c.SystemID != sys.ID {
			return nil, model.NewError(model.KindInvalidArgument, "import rows reference more than one system_id", nil)
		}
	}
	return sys, nil
}

func decodeComponentCSV(section string) ([]*model.Component, error) {
	r := csv.NewReader(bufio.NewReader(strings.NewReader(section)))
	rows, err := r.ReadAll()
	if err != nil {
		return nil, model.NewError(model.KindInvalidArgument, "invalid component csv: "+err.Error(), nil)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	var out []*model.Component
	for _, row := range rows[1:] {
		if len(row) != len(componentCSVHeader) {
			return nil, model.NewError(model.KindInvalidArgument, "component csv row has wrong column count", nil)
		}
		id, err := uuid.Parse(row[0])
		if err != nil {
			return nil, model.NewError(model.KindInvalidArgument, "invalid component id: "+err.Error(), nil)
		}
		sysID, err := uuid.Parse(row[1])
		if err != nil {
			return nil, model.NewError(model.KindInvalidArgument, "invalid component system_id: "+err.Error(), nil)
		}
		value, err := strconv.ParseFloat(row[4], 64)
		if err != nil {
			return nil, model.NewError(model.KindInvalidArgument, "invalid component current_value: "+err.Error(), nil)
		}
		c := model.NewComponent(sysID, row[2], model.ComponentKind(row[3]), model.DefaultStateHistoryLength)
		c.ID = id
		c.State.Update(value, model.ComponentStatus(row[5]), c.State.LastUpdate)
		if err := json.Unmarshal([]byte(row[6]), &c.Properties); err != nil {
			return nil, model.NewError(model.KindInvalidArgument, "invalid component properties: "+err.Error(), nil)
		}
		if err := json.Unmarshal([]byte(row[7]), &c.Metadata); err != nil {
			return nil, model.NewError(model.KindInvalidArgument, "invalid component metadata: "+err.Error(), nil)
		}
		out = append(out, c)
	}
	return out, nil
}

func decodeRelationshipCSV(section string) ([]*model.Relationship, error) {
	r := csv.NewReader(bufio.NewReader(strings.NewReader(section)))
	rows, err := r.ReadAll()
	if err != nil {
		return nil, model.NewError(model.KindInvalidArgument, "invalid relationship csv: "+err.Error(), nil)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	var out []*model.Relationship
	for _, row := range rows[1:] {
		if len(row) != len(relationshipCSVHeader) {
			return nil, model.NewError(model.KindInvalidArgument, "relationship csv row has wrong column count", nil)
		}
		id, err := uuid.Parse(row[0])
		if err != nil {
			return nil, model.NewError(model.KindInvalidArgument, "invalid relationship id: "+err.Error(), nil)
		}
		sysID, err := uuid.Parse(row[1])
		if err != nil {
			return nil, model.NewError(model.KindInvalidArgument, "invalid relationship system_id: "+err.Error(), nil)
		}
		srcID, err := uuid.Parse(row[2])
		if err != nil {
			return nil, model.NewError(model.KindInvalidArgument, "invalid relationship source_id: "+err.Error(), nil)
		}
		tgtID, err := uuid.Parse(row[3])
		if err != nil {
			return nil, model.NewError(model.KindInvalidArgument, "invalid relationship target_id: "+err.Error(), nil)
		}
		weight, err := strconv.ParseFloat(row[5], 64)
		if err != nil {
			return nil, model.NewError(model.KindInvalidArgument, "invalid relationship weight: "+err.Error(), nil)
		}
		rel := model.NewRelationship(sysID, srcID, tgtID, model.RelationshipKind(row[4]), weight)
		rel.ID = id
		if err := json.Unmarshal([]byte(row[6]), &rel.Properties); err != nil {
			return nil, model.NewError(model.KindInvalidArgument, "invalid relationship properties: "+err.Error(), nil)
		}
		if err := json.Unmarshal([]byte(row[7]), &rel.Metadata); err != nil {
			return nil, model.NewError(model.KindInvalidArgument, "invalid relationship metadata: "+err.Error(), nil)
		}
		out = append(out, rel)
	}
	return out, nil
}

// graphML mirrors the standard GraphML element tree, extended with the
// csa:kind/csa:state namespaced attributes spec.md §6 names for component
// kind and state.
type graphMLDoc struct {
	XMLName xml.Name     `xml:"graphml"`
	XMLNSCSA string      `xml:"xmlns:csa,attr"`
	Graph   graphMLGraph `xml:"graph"`
}

type graphMLGraph struct {
	EdgeDefault string        `xml:"edgedefault,attr"`
	Nodes       []graphMLNode `xml:"node"`
	Edges       []graphMLEdge `xml:"edge"`
}

type graphMLNode struct {
	ID       string `xml:"id,attr"`
	CSAKind  string `xml:"https://csa-systems/ns/csa kind,attr"`
	CSAState string `xml:"https://csa-systems/ns/csa state,attr"`
}

type graphMLEdge struct {
	ID     string `xml:"id,attr"`
	Source string `xml:"source,attr"`
	Target string `xml:"target,attr"`
	Kind   string `xml:"kind,attr"`
	Weight string `xml:"weight,attr"`
}

func encodeGraphML(sys *model.System, components []*model.Component, relationships []*model.Relationship) ([]byte, error) {
	doc := graphMLDoc{
		XMLNSCSA: "https://csa-systems/ns/csa",
		Graph:    graphMLGraph{EdgeDefault: "directed"},
	}
	for _, c := range components {
		doc.Graph.Nodes = append(doc.Graph.Nodes, graphMLNode{
			ID:       c.ID.String(),
			CSAKind:  string(c.Kind),
			CSAState: string(c.State.Status),
		})
	}
	for _, r := range relationships {
		doc.Graph.Edges = append(doc.Graph.Edges, graphMLEdge{
			ID:     r.ID.String(),
			Source: r.SourceID.String(),
			Target: r.TargetID.String(),
			Kind:   string(r.Kind),
			Weight: strconv.FormatFloat(r.Weight, 'g', -1, 64),
		})
	}
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

func decodeGraphML(data []byte) (*model.System, []*model.Component, []*model.Relationship, error) {
	var doc graphMLDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, nil, nil, model.NewError(model.KindInvalidArgument, "invalid graphml: "+err.Error(), nil)
	}
	// GraphML carries no system row at all, so mint one up front and stamp
	// it onto every node/edge as they're decoded. Components and
	// relationships get fresh ids too: the file's node and edge ids only
	// resolve edge endpoints (and become each component's name), so
	// re-importing an exported graph creates a separate copy instead of
	// colliding with the original system's rows.
	sys := model.NewSystem("Imported System", "")

	var components []*model.Component
	nodeIDs := make(map[string]uuid.UUID)
	for _, n := range doc.Graph.Nodes {
		if _, err := uuid.Parse(n.ID); err != nil {
			return nil, nil, nil, model.NewError(model.KindInvalidArgument, "invalid graphml node id: "+err.Error(), nil)
		}
		c := model.NewComponent(sys.ID, n.ID, model.ComponentKind(n.CSAKind), model.DefaultStateHistoryLength)
		nodeIDs[n.ID] = c.ID
		c.State.Update(0, model.ComponentStatus(n.CSAState), c.State.LastUpdate)
		components = append(components, c)
	}
	var relationships []*model.Relationship
	for _, e := range doc.Graph.Edges {
		if _, err := uuid.Parse(e.ID); err != nil {
			return nil, nil, nil, model.NewError(model.KindInvalidArgument, "invalid graphml edge id: "+err.Error(), nil)
		}
		src, ok := nodeIDs[e.Source]
		if !ok {
			return nil, nil, nil, model.NewError(model.KindInvalidArgument, fmt.Sprintf("graphml edge %s references unknown source %s", e.ID, e.Source), nil)
		}
		tgt, ok := nodeIDs[e.Target]
		if !ok {
			return nil, nil, nil, model.NewError(model.KindInvalidArgument, fmt.Sprintf("graphml edge %s references unknown target %s", e.ID, e.Target), nil)
		}
		weight, err := strconv.ParseFloat(e.Weight, 64)
		if err != nil {
			return nil, nil, nil, model.NewError(model.KindInvalidArgument, "invalid graphml edge weight: "+err.Error(), nil)
		}
		rel := model.NewRelationship(sys.ID, src, tgt, model.RelationshipKind(e.Kind), weight)
		relationships = append(relationships, rel)
	}
	return sys, components, relationships, nil
}
