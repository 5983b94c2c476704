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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/csa-systems/csa-engine/internal/model"
)

// errBody is the {err: {kind, message, details}} half of the discriminated
// response envelope.
type errBody struct {
	Kind    model.Kind `json:"kind"`
	Message string     `json:"message"`
	Details any        `json:"details,omitempty"`
}

// ok writes {ok: payload} with status.
func ok(c *gin.Context, status int, payload any) {
	c.JSON(status, gin.H{"ok": payload})
}

// fail writes {err: {kind, message, details}}, picking the HTTP status from
// err's Kind when err is a *model.Error, or KindInternal otherwise.
func fail(c *gin.Context, err error) {
	var modelErr *model.Error
	if !errors.As(err, &modelErr) {
		modelErr = model.NewError(model.KindInternal, err.Error(), nil)
	}
	c.JSON(statusForKind(modelErr.Kind), gin.H{"err": errBody{
		Kind:    modelErr.Kind,
		Message: modelErr.Message,
		Details: modelErr.Details,
	}})
}

func statusForKind(k model.Kind) int {
	switch k {
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConflict:
		return http.StatusConflict
	case model.KindInvariantViolation, model.KindInvalidArgument, model.KindInvalidBackup:
		return http.StatusBadRequest
	case model.KindQueueFull:
		return http.StatusTooManyRequests
	case model.KindCancelled:
		return http.StatusGone
	case model.KindTimedOut:
		return http.StatusGatewayTimeout
	case model.KindIO, model.KindCorruption, model.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
