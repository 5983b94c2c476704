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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/csa-systems/csa-engine/internal/compute"
	"github.com/csa-systems/csa-engine/internal/engine"
	"github.com/csa-systems/csa-engine/internal/events"
	"github.com/csa-systems/csa-engine/internal/model"
)

type createSystemRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func createSystem(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createSystemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, model.NewError(model.KindInvalidArgument, err.Error(), nil))
			return
		}
		sys, err := eng.CreateSystem(c.Request.Context(), req.Name, req.Description)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusCreated, sys)
	}
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		fail(c, model.NewError(model.KindInvalidArgument, "invalid "+name, nil))
		return uuid.Nil, false
	}
	return id, true
}

func loadSystem(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, okID := pathUUID(c, "id")
		if !okID {
			return
		}
		m, err := eng.LoadSystem(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		snap := m.Snapshot()
		ok(c, http.StatusOK, gin.H{
			"system":        snap.System(),
			"components":    snap.Components(),
			"relationships": snap.Relationships(),
		})
	}
}

func saveSystem(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, okID := pathUUID(c, "id")
		if !okID {
			return
		}
		if err := eng.SaveSystem(c.Request.Context(), id); err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"system_id": id})
	}
}

type createComponentRequest struct {
	Name       string             `json:"name" binding:"required"`
	Kind       model.ComponentKind `json:"kind" binding:"required"`
	Properties map[string]any     `json:"properties"`
}

func addComponent(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, okID := pathUUID(c, "id")
		if !okID {
			return
		}
		var req createComponentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, model.NewError(model.KindInvalidArgument, err.Error(), nil))
			return
		}
		if !req.Kind.Valid() {
			fail(c, model.NewError(model.KindInvalidArgument, "invalid component kind", nil))
			return
		}
		comp := model.NewComponent(id, req.Name, req.Kind, eng.StateHistoryLength())
		if req.Properties != nil {
			comp.Properties = req.Properties
		}
		if err := eng.AddComponent(c.Request.Context(), id, comp); err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusCreated, comp)
	}
}

func removeComponent(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, okID := pathUUID(c, "id")
		if !okID {
			return
		}
		cid, okCid := pathUUID(c, "cid")
		if !okCid {
			return
		}
		if err := eng.RemoveComponent(c.Request.Context(), id, cid); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type updateStateRequest struct {
	CurrentValue float64                `json:"current_value"`
	Status       model.ComponentStatus `json:"status" binding:"required"`
}

func updateComponentState(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, okID := pathUUID(c, "id")
		if !okID {
			return
		}
		cid, okCid := pathUUID(c, "cid")
		if !okCid {
			return
		}
		var req updateStateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, model.NewError(model.KindInvalidArgument, err.Error(), nil))
			return
		}
		if err := eng.UpdateComponentState(c.Request.Context(), id, cid, req.CurrentValue, req.Status); err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"component_id": cid})
	}
}

type createRelationshipRequest struct {
	SourceID   uuid.UUID              `json:"source_id" binding:"required"`
	TargetID   uuid.UUID              `json:"target_id" binding:"required"`
	Kind       model.RelationshipKind `json:"kind" binding:"required"`
	Weight     float64                `json:"weight"`
	Properties map[string]any         `json:"properties"`
}

func addRelationship(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, okID := pathUUID(c, "id")
		if !okID {
			return
		}
		var req createRelationshipRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, model.NewError(model.KindInvalidArgument, err.Error(), nil))
			return
		}
		if !req.Kind.Valid() {
			fail(c, model.NewError(model.KindInvalidArgument, "invalid relationship kind", nil))
			return
		}
		rel := model.NewRelationship(id, req.SourceID, req.TargetID, req.Kind, req.Weight)
		if req.Properties != nil {
			rel.Properties = req.Properties
		}
		if err := eng.AddRelationship(c.Request.Context(), id, rel); err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusCreated, rel)
	}
}

func removeRelationship(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, okID := pathUUID(c, "id")
		if !okID {
			return
		}
		rid, okRid := pathUUID(c, "rid")
		if !okRid {
			return
		}
		if err := eng.RemoveRelationship(c.Request.Context(), id, rid); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type submitAnalysisRequest struct {
	Algorithm string         `json:"algorithm" binding:"required"`
	Params    map[string]any `json:"params"`
	Priority  string         `json:"priority"`
	TimeoutMS int64          `json:"timeout_ms"`
}

func parsePriority(s string) compute.Priority {
	switch s {
	case "High":
		return compute.PriorityHigh
	case "Low":
		return compute.PriorityLow
	case "Background":
		return compute.PriorityBackground
	default:
		return compute.PriorityNormal
	}
}

func submitAnalysis(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, okID := pathUUID(c, "id")
		if !okID {
			return
		}
		var req submitAnalysisRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, model.NewError(model.KindInvalidArgument, err.Error(), nil))
			return
		}
		m, err := eng.LoadSystem(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		var timeout time.Duration
		if req.TimeoutMS > 0 {
			timeout = time.Duration(req.TimeoutMS) * time.Millisecond
		}
		handle, err := eng.Compute().Submit(compute.SubmitRequest{
			Algorithm: req.Algorithm,
			Snapshot:  m.Snapshot(),
			Params:    req.Params,
			Priority:  parsePriority(req.Priority),
			Timeout:   timeout,
		})
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusAccepted, gin.H{"handle": handle})
	}
}

func getTask(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		handle, okHandle := pathUUID(c, "handle")
		if !okHandle {
			return
		}
		r, err := eng.Compute().Result(handle)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"handle": handle, "status": r.Status})
	}
}

func getTaskResult(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		handle, okHandle := pathUUID(c, "handle")
		if !okHandle {
			return
		}
		r, err := eng.Compute().Result(handle)
		if err != nil {
			fail(c, err)
			return
		}
		if !r.Status.IsTerminal() {
			fail(c, model.NewError(model.KindInvalidArgument, "task has not reached a terminal status", nil))
			return
		}
		if r.Err != nil {
			fail(c, r.Err)
			return
		}
		ok(c, http.StatusOK, gin.H{"handle": handle, "status": r.Status, "value": r.Value})
	}
}

func cancelTask(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		handle, okHandle := pathUUID(c, "handle")
		if !okHandle {
			return
		}
		if err := eng.Compute().Cancel(handle); err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"handle": handle})
	}
}

func validateSystem(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, okID := pathUUID(c, "id")
		if !okID {
			return
		}
		m, err := eng.LoadSystem(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		result := m.Validate()
		ok(c, http.StatusOK, gin.H{"findings": result.Findings, "has_errors": result.HasErrors()})
	}
}

type exportRequest struct {
	Format string `json:"format" binding:"required"` // "json", "csv", "graphml"
}

func exportSystem(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, okID := pathUUID(c, "id")
		if !okID {
			return
		}
		var req exportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, model.NewError(model.KindInvalidArgument, err.Error(), nil))
			return
		}
		m, err := eng.LoadSystem(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		snap := m.Snapshot()
		data, contentType, err := encodeExport(req.Format, snap.System(), snap.Components(), snap.Relationships())
		if err != nil {
			fail(c, err)
			return
		}
		c.Data(http.StatusOK, contentType, data)
	}
}

type importRequest struct {
	Format string `json:"format" binding:"required"`
	Data   string `json:"data" binding:"required"`
}

func importSystem(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req importRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, model.NewError(model.KindInvalidArgument, err.Error(), nil))
			return
		}
		sys, components, relationships, err := decodeImport(req.Format, []byte(req.Data))
		if err != nil {
			fail(c, err)
			return
		}
		if err := eng.Storage().StoreSystem(c.Request.Context(), sys, components, relationships); err != nil {
			fail(c, err)
			return
		}
		ok(c, http.StatusCreated, sys)
	}
}

func handleEventStream(eng *engine.Engine, c *gin.Context) {
	if err := eng.Bus().ServeWebSocket(c.Writer, c.Request, events.SubscribeOptions{}); err != nil {
		fail(c, model.NewError(model.KindIO, "websocket upgrade failed", err))
	}
}
