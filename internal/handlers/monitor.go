package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/adam314315/rossbackend-sub000/internal/repos"
)

// MonitorHandler exposes the read-only monitoring view: per-state product and
// file counts, lock state and execution blockers for one chain.
type MonitorHandler struct {
	chains   repos.ChainRepo
	products repos.ProductRepo
	files    repos.AcquisitionFileRepo
}

func NewMonitorHandler(chains repos.ChainRepo, products repos.ProductRepo, files repos.AcquisitionFileRepo) *MonitorHandler {
	return &MonitorHandler{chains: chains, products: products, files: files}
}

// GET /api/v1/chains/:id/monitor
func (h *MonitorHandler) GetChainMonitor(c *gin.Context) {
	chainID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_chain_id", err)
		return
	}
	ctx := c.Request.Context()

	chain, err := h.chains.GetByID(ctx, nil, chainID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "chain_lookup_failed", err)
		return
	}
	if chain == nil {
		RespondError(c, http.StatusNotFound, "chain_not_found", err)
		return
	}

	productCounts, err := h.products.CountBySIPState(ctx, nil, chainID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "product_counts_failed", err)
		return
	}
	fileCounts, err := h.files.CountByChainAndState(ctx, nil, chainID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "file_counts_failed", err)
		return
	}

	var blockers []string
	if len(chain.ExecutionBlockers) > 0 {
		_ = json.Unmarshal(chain.ExecutionBlockers, &blockers)
	}

	RespondOK(c, gin.H{
		"chain": gin.H{
			"id":                   chain.ID,
			"label":                chain.Label,
			"active":               chain.Active,
			"mode":                 chain.Mode,
			"locked":               chain.Locked,
			"last_activation_date": chain.LastActivationDate,
			"execution_blockers":   blockers,
		},
		"products_by_sip_state": productCounts,
		"files_by_state":        fileCounts,
	})
}
