// Package handler implements the Gin request handlers for the control
// API, dispatching the single tool-call endpoint to the Slot Engine
// and Env Store.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	coreerrors "github.com/codeblabdev/codeb-controlplane/internal/core/errors"
	"github.com/codeblabdev/codeb-controlplane/internal/core/envbundle"
	"github.com/codeblabdev/codeb-controlplane/internal/core/logger"
	"github.com/codeblabdev/codeb-controlplane/internal/core/slot"
	"github.com/codeblabdev/codeb-controlplane/internal/core/slotengine"
)

// ToolRequest is the envelope every control-API call arrives in.
type ToolRequest struct {
	Tool   string          `json:"tool" binding:"required"`
	Params json.RawMessage `json:"params"`
}

// ToolResponse is the envelope every control-API call returns.
type ToolResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody is the taxonomy-shaped error payload.
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ToolHandler dispatches the {tool, params} envelope to the Slot Engine
// and Env Store.
type ToolHandler struct {
	engine *slotengine.Engine
	slots  slot.Store
	envs   envbundle.Store
	log    logger.Logger
}

// NewToolHandler creates a new tool-call handler.
func NewToolHandler(engine *slotengine.Engine, slots slot.Store, envs envbundle.Store, log logger.Logger) *ToolHandler {
	return &ToolHandler{engine: engine, slots: slots, envs: envs, log: log}
}

// Dispatch routes one {tool, params} request to its operation.
func (h *ToolHandler) Dispatch(c *gin.Context) {
	var req ToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ToolResponse{
			Success: false,
			Error:   &ErrorBody{Code: string(coreerrors.ErrTypeInvalidInput), Message: "invalid request envelope: " + err.Error()},
		})
		return
	}

	ctx := c.Request.Context()

	var (
		data interface{}
		err  error
	)

	switch req.Tool {
	case "deploy":
		var p deployParams
		if err = json.Unmarshal(req.Params, &p); err == nil {
			data, err = h.engine.Deploy(ctx, slotengine.DeployOptions{
				Project:         p.ProjectName,
				Environment:     p.Environment,
				Version:         p.Version,
				Image:           p.Image,
				SkipHealthcheck: p.SkipHealthcheck,
			})
		}
	case "promote":
		var p projectEnvParams
		if err = json.Unmarshal(req.Params, &p); err == nil {
			data, err = h.engine.Promote(ctx, p.ProjectName, p.Environment)
		}
	case "rollback":
		var p rollbackParams
		if err = json.Unmarshal(req.Params, &p); err == nil {
			data, err = h.engine.Rollback(ctx, p.ProjectName, p.Environment, p.Reason)
		}
	case "slot_status":
		var p slotStatusParams
		if err = json.Unmarshal(req.Params, &p); err == nil {
			data, err = h.slotStatus(ctx, p)
		}
	case "slot_list":
		data, err = h.slots.List(ctx)
	case "slot_cleanup":
		var p cleanupParams
		if err = json.Unmarshal(req.Params, &p); err == nil {
			data, err = h.engine.Cleanup(ctx, p.ProjectName, p.Environment, p.Force)
		}
	case "env_get":
		var p envGetParams
		if err = json.Unmarshal(req.Params, &p); err == nil {
			data, err = h.envs.Get(ctx, p.ProjectName, p.Environment, p.Key)
		}
	case "env_set":
		var p envSetParams
		if err = json.Unmarshal(req.Params, &p); err == nil {
			err = h.envs.Set(ctx, p.ProjectName, p.Environment, p.Key, p.Value)
		}
	case "env_restore":
		var p envRestoreParams
		if err = json.Unmarshal(req.Params, &p); err == nil {
			err = h.envs.Restore(ctx, p.ProjectName, p.Environment, p.Version)
		}
	case "env_history":
		var p envHistoryParams
		if err = json.Unmarshal(req.Params, &p); err == nil {
			if p.Limit <= 0 {
				p.Limit = 20
			}
			data, err = h.envs.History(ctx, p.ProjectName, p.Environment, p.Limit)
		}
	default:
		err = coreerrors.NewInvalidInputError("unrecognized tool", map[string]interface{}{"tool": req.Tool})
	}

	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ToolResponse{Success: true, Data: data})
}

func (h *ToolHandler) slotStatus(ctx context.Context, p slotStatusParams) (interface{}, error) {
	if p.Environment != "" {
		return h.slots.Get(ctx, p.ProjectName, p.Environment)
	}
	all, err := h.slots.List(ctx)
	if err != nil {
		return nil, err
	}
	matching := make([]*slot.Registry, 0)
	for _, r := range all {
		if r.ProjectName == p.ProjectName {
			matching = append(matching, r)
		}
	}
	return matching, nil
}

func writeError(c *gin.Context, err error) {
	appErr, ok := err.(*coreerrors.AppError)
	if !ok {
		c.JSON(http.StatusInternalServerError, ToolResponse{
			Success: false,
			Error:   &ErrorBody{Code: string(coreerrors.ErrTypeInternal), Message: err.Error()},
		})
		return
	}
	c.JSON(appErr.StatusCode, ToolResponse{
		Success: false,
		Error:   &ErrorBody{Code: string(appErr.Type), Message: appErr.Message, Details: appErr.Details},
	})
}

type deployParams struct {
	ProjectName     string `json:"projectName" binding:"required"`
	Environment     string `json:"environment" binding:"required"`
	Version         string `json:"version" binding:"required"`
	Image           string `json:"image"`
	SkipHealthcheck bool   `json:"skipHealthcheck"`
}

type projectEnvParams struct {
	ProjectName string `json:"projectName" binding:"required"`
	Environment string `json:"environment" binding:"required"`
}

type rollbackParams struct {
	ProjectName string `json:"projectName" binding:"required"`
	Environment string `json:"environment" binding:"required"`
	Reason      string `json:"reason"`
}

type slotStatusParams struct {
	ProjectName string `json:"projectName" binding:"required"`
	Environment string `json:"environment"`
}

type cleanupParams struct {
	ProjectName string `json:"projectName" binding:"required"`
	Environment string `json:"environment" binding:"required"`
	Force       bool   `json:"force"`
}

type envGetParams struct {
	ProjectName string `json:"projectName" binding:"required"`
	Environment string `json:"environment" binding:"required"`
	Key         string `json:"key"`
}

type envSetParams struct {
	ProjectName string `json:"projectName" binding:"required"`
	Environment string `json:"environment" binding:"required"`
	Key         string `json:"key" binding:"required"`
	Value       string `json:"value"`
}

type envRestoreParams struct {
	ProjectName string `json:"projectName" binding:"required"`
	Environment string `json:"environment" binding:"required"`
	Version     string `json:"version" binding:"required"`
}

type envHistoryParams struct {
	ProjectName string `json:"projectName" binding:"required"`
	Environment string `json:"environment" binding:"required"`
	Limit       int    `json:"limit"`
}
