// Package transport exposes the reserve pipeline over HTTP JSON.
package transport

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/w3b-protocol/reserve-backend/internal/ledger"
	"github.com/w3b-protocol/reserve-backend/internal/model"
	"github.com/w3b-protocol/reserve-backend/internal/rate"
	"github.com/w3b-protocol/reserve-backend/internal/solvency"
)

type (
	Ledger interface {
		Ingest(ctx context.Context, batchID string, serials []string) (ledger.IngestResult, error)
	}

	StateReader interface {
		ReadState(ctx context.Context) (model.ProtocolState, error)
	}

	Repository interface {
		CountSerials(ctx context.Context) (uint64, error)
		LatestMerkleRoot(ctx context.Context) (model.MerkleRoot, bool, error)
		RecentMerkleRoots(ctx context.Context, limit int) ([]model.MerkleRoot, error)
	}

	RateReader interface {
		Current(ctx context.Context) (rate.Reading, error)
	}
)

const auditHistoryLimit = 20

// ReserveHandler serves the reserve API endpoints.
type ReserveHandler struct {
	ledger Ledger
	state  StateReader
	repo   Repository
	rates  RateReader
	logger *zap.Logger
}

// NewReserveHandler builds the handler.
func NewReserveHandler(ledger Ledger, state StateReader, repo Repository, rates RateReader, logger *zap.Logger) *ReserveHandler {
	return &ReserveHandler{
		ledger: ledger,
		state:  state,
		repo:   repo,
		rates:  rates,
		logger: logger,
	}
}

// Register mounts all routes on the mux.
func (h *ReserveHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /reserve/batch", h.ingestBatch)
	mux.HandleFunc("GET /reserve/status", h.status)
	mux.HandleFunc("GET /reserve/status/extended", h.statusExtended)
	mux.HandleFunc("GET /reserve/rate", h.rate)
}

type ingestRequest struct {
	BatchID string   `json:"batchId"`
	Serials []string `json:"serials"`
}

type ingestResponse struct {
	Success         bool   `json:"success"`
	BatchID         string `json:"batchId"`
	SerialsIngested int    `json:"serialsIngested"`
	NewMerkleRoot   string `json:"newMerkleRoot"`
	TotalSerials    uint64 `json:"totalSerials"`
}

func (h *ReserveHandler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	result, err := h.ledger.Ingest(r.Context(), req.BatchID, req.Serials)
	if err != nil {
		var validationErr *model.ValidationError
		var collisionErr *model.HashCollisionError
		switch {
		case errors.As(err, &validationErr):
			h.writeError(w, http.StatusBadRequest, validationErr.Error())
		case errors.As(err, &collisionErr):
			h.writeError(w, http.StatusConflict, collisionErr.Error())
		default:
			h.logger.Error("ingest failed", zap.String("batch_id", req.BatchID), zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, ingestResponse{
		Success:         true,
		BatchID:         result.BatchID,
		SerialsIngested: result.SerialsIngested,
		NewMerkleRoot:   result.NewMerkleRoot,
		TotalSerials:    result.TotalSerials,
	})
}

type statusResponse struct {
	TotalSerials        uint64     `json:"totalSerials"`
	CurrentMerkleRoot   string     `json:"currentMerkleRoot"`
	LastRootUpdate      *time.Time `json:"lastRootUpdate"`
	LastProofSubmission *time.Time `json:"lastProofSubmission"`
	ProofVerified       bool       `json:"proofVerified"`
}

// status reports the pipeline position. The on-chain state is best effort: if
// it cannot be read the local ledger view is served instead.
func (h *ReserveHandler) status(w http.ResponseWriter, r *http.Request) {
	resp, err := h.buildStatus(r.Context())
	if err != nil {
		h.logger.Error("status read failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *ReserveHandler) buildStatus(ctx context.Context) (statusResponse, error) {
	total, err := h.repo.CountSerials(ctx)
	if err != nil {
		return statusResponse{}, err
	}
	resp := statusResponse{TotalSerials: total}

	state, err := h.state.ReadState(ctx)
	if err != nil {
		if !errors.Is(err, model.ErrStateNotFound) {
			h.logger.Warn("on-chain state unavailable, serving local view", zap.Error(err))
		}
		if latest, found, repoErr := h.repo.LatestMerkleRoot(ctx); repoErr != nil {
			return statusResponse{}, repoErr
		} else if found {
			resp.CurrentMerkleRoot = latest.RootHash
			if !latest.AnchoredAt.IsZero() {
				anchoredAt := latest.AnchoredAt
				resp.LastRootUpdate = &anchoredAt
			}
		}
		return resp, nil
	}

	resp.CurrentMerkleRoot = hexRoot(state.CurrentMerkleRoot)
	resp.LastRootUpdate = unixTime(state.LastRootUpdate)
	resp.LastProofSubmission = unixTime(state.LastProofTimestamp)
	resp.ProofVerified = state.LastProofTimestamp > 0 && state.LastProofTimestamp >= state.LastRootUpdate
	return resp, nil
}

type onChainView struct {
	TotalSupply    uint64 `json:"totalSupply"`
	TotalBurned    uint64 `json:"totalBurned"`
	ProvenReserves uint64 `json:"provenReserves"`
	PriceLamports  uint64 `json:"priceLamports"`
	IsPaused       bool   `json:"isPaused"`
}

type solvencyView struct {
	IsSolvent bool    `json:"isSolvent"`
	Ratio     float64 `json:"ratio"`
	Status    string  `json:"status"`
}

type auditRecord struct {
	RootHash     string     `json:"rootHash"`
	TotalSerials uint64     `json:"totalSerials"`
	Status       string     `json:"status"`
	TxRef        string     `json:"txRef,omitempty"`
	AnchoredAt   *time.Time `json:"anchoredAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

type offChainView struct {
	LastAuditRecord *auditRecord  `json:"lastAuditRecord"`
	TotalBatches    int           `json:"totalBatches"`
	AuditHistory    []auditRecord `json:"auditHistory"`
}

type extendedStatusResponse struct {
	statusResponse
	OnChain  *onChainView  `json:"onChain"`
	Solvency *solvencyView `json:"solvency"`
	OffChain offChainView  `json:"offChain"`
}

func (h *ReserveHandler) statusExtended(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	base, err := h.buildStatus(ctx)
	if err != nil {
		h.logger.Error("status read failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp := extendedStatusResponse{statusResponse: base}

	if state, err := h.state.ReadState(ctx); err == nil {
		report := solvency.Evaluate(state)
		resp.OnChain = &onChainView{
			TotalSupply:    state.TotalSupply,
			TotalBurned:    state.TotalBurned,
			ProvenReserves: state.ProvenReserves,
			PriceLamports:  state.PriceLamports,
			IsPaused:       state.IsPaused,
		}
		resp.Solvency = &solvencyView{
			IsSolvent: report.IsSolvent,
			Ratio:     report.Ratio,
			Status:    report.Status,
		}
	} else if !errors.Is(err, model.ErrStateNotFound) {
		h.logger.Warn("on-chain state unavailable for extended status", zap.Error(err))
	}

	roots, err := h.repo.RecentMerkleRoots(ctx, auditHistoryLimit)
	if err != nil {
		h.logger.Error("audit history read failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp.OffChain.TotalBatches = len(roots)
	resp.OffChain.AuditHistory = make([]auditRecord, 0, len(roots))
	for _, root := range roots {
		resp.OffChain.AuditHistory = append(resp.OffChain.AuditHistory, toAuditRecord(root))
	}
	if len(resp.OffChain.AuditHistory) > 0 {
		resp.OffChain.LastAuditRecord = &resp.OffChain.AuditHistory[0]
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type priceSyncView struct {
	OnChainPrice   uint64   `json:"onChainPrice"`
	SuggestedPrice uint64   `json:"suggestedPrice"`
	Drift          *float64 `json:"drift"`
	Synced         bool     `json:"synced"`
}

type rateResponse struct {
	Rate               float64       `json:"rate"`
	UpdatedAt          time.Time     `json:"updatedAt"`
	PreviousRate       float64       `json:"previousRate"`
	Change24h          *float64      `json:"change24h"`
	IsStale            bool          `json:"isStale"`
	MinutesSinceUpdate int           `json:"minutesSinceUpdate"`
	SwingFlagged       bool          `json:"swingFlagged"`
	PriceSync          priceSyncView `json:"priceSync"`
}

func (h *ReserveHandler) rate(w http.ResponseWriter, r *http.Request) {
	reading, err := h.rates.Current(r.Context())
	if err != nil {
		h.logger.Error("rate read failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.writeJSON(w, http.StatusOK, rateResponse{
		Rate:               reading.Rate,
		UpdatedAt:          reading.UpdatedAt,
		PreviousRate:       reading.PreviousRate,
		Change24h:          reading.Change24h,
		IsStale:            reading.IsStale,
		MinutesSinceUpdate: reading.MinutesSinceUpdate,
		SwingFlagged:       reading.SwingFlagged,
		PriceSync: priceSyncView{
			OnChainPrice:   reading.PriceSync.OnChainPrice,
			SuggestedPrice: reading.PriceSync.SuggestedPrice,
			Drift:          reading.PriceSync.Drift,
			Synced:         reading.PriceSync.Synced,
		},
	})
}

func toAuditRecord(root model.MerkleRoot) auditRecord {
	rec := auditRecord{
		RootHash:     root.RootHash,
		TotalSerials: root.TotalSerials,
		Status:       string(root.Status),
		TxRef:        root.TxRef,
		CreatedAt:    root.CreatedAt,
	}
	if !root.AnchoredAt.IsZero() {
		anchoredAt := root.AnchoredAt
		rec.AnchoredAt = &anchoredAt
	}
	return rec
}

func (h *ReserveHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *ReserveHandler) writeError(w http.ResponseWriter, status int, reason string) {
	h.writeJSON(w, status, map[string]any{"success": false, "error": reason})
}

func hexRoot(root [32]byte) string {
	var zero [32]byte
	if root == zero {
		return ""
	}
	return hex.EncodeToString(root[:])
}

func unixTime(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
