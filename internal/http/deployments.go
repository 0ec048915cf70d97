package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mcpforge/internal/recordstore"
)

// Deployments reads stored deployment records. *recordstore.Store
// implements it.
type Deployments interface {
	Get(ctx context.Context, id string) (*recordstore.Entry, error)
	ListByOwner(ctx context.Context, ownerID string) ([]recordstore.Entry, error)
}

// handleListDeployments lists the caller's deployments. With API tokens the
// owner is the authenticated one; otherwise owner_id is required.
func (s *Server) handleListDeployments(c echo.Context) error {
	ownerID, ok := OwnerIDFrom(c)
	if !ok {
		ownerID = c.QueryParam("owner_id")
	}
	if ownerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "owner_id is required")
	}

	entries, err := s.config.Deployments.ListByOwner(c.Request().Context(), ownerID)
	if err != nil {
		s.logger.Error(c.Request().Context(), "failed to list deployments", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list deployments")
	}

	resp := ListDeploymentsResponse{Deployments: make([]DeploymentResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Deployments = append(resp.Deployments, toDeploymentResponse(e))
	}
	return c.JSON(http.StatusOK, resp)
}

// handleGetDeployment returns one deployment. Another owner's record is
// reported as missing.
func (s *Server) handleGetDeployment(c echo.Context) error {
	e, err := s.config.Deployments.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, recordstore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "deployment not found")
	}
	if err != nil {
		s.logger.Error(c.Request().Context(), "failed to get deployment", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get deployment")
	}
	if ownerID, ok := OwnerIDFrom(c); ok && ownerID != e.Record.OwnerID {
		return echo.NewHTTPError(http.StatusNotFound, "deployment not found")
	}
	return c.JSON(http.StatusOK, toDeploymentResponse(*e))
}

func toDeploymentResponse(e recordstore.Entry) DeploymentResponse {
	return DeploymentResponse{
		ID:          e.ID,
		OwnerID:     e.Record.OwnerID,
		Name:        e.Record.Name,
		Endpoint:    e.Record.Endpoint,
		Description: e.Record.Description,
		CreatedAt:   e.CreatedAt,
	}
}
