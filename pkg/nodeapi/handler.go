package nodeapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ciylabs/cluster-access-control/internal/httpserver"
	"github.com/ciylabs/cluster-access-control/pkg/clusteradapter"
	"github.com/ciylabs/cluster-access-control/pkg/registrar"
)

// Registrar is the narrow slice of the registrar the handler consumes.
type Registrar interface {
	Register(ctx context.Context, node registrar.NodeDetails) (registrar.RegistrationDetails, error)
}

// Handler provides the node-facing HTTP surface: registration, keepalive,
// existence/shutdown, and the cluster-access passthrough.
type Handler struct {
	logger    *slog.Logger
	registrar Registrar
	intake    *Intake
	adapter   clusteradapter.Adapter
}

// NewHandler creates a node-facing Handler.
func NewHandler(logger *slog.Logger, reg Registrar, intake *Intake, adapter clusteradapter.Adapter) *Handler {
	return &Handler{logger: logger, registrar: reg, intake: intake, adapter: adapter}
}

// Routes returns the node-facing HTTP surface as a standalone router,
// suitable for mounting at /api/v1 on its own.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

// Mount registers the node-facing routes directly onto r, so this handler
// can share a mount point with other handlers under the same prefix.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/node_token", h.handleNodeToken)
	r.Put("/node_keepalive/{node_id}", h.handleKeepalive)
	r.Get("/node_exists/{name}", h.handleNodeExistsGet)
	r.Post("/node_exists/{name}", h.handleNodeExistsPost)
	r.Get("/cluster_access", h.handleClusterAccess)
}

// nodeTokenRequest is the registration request body.
type nodeTokenRequest struct {
	Name string `json:"name" validate:"required"`
	ID   string `json:"id" validate:"required"`
}

// nodeTokenResponse is the registration response body, named after the
// external cluster-access wire format.
type nodeTokenResponse struct {
	K8sIP    string `json:"k8s_ip"`
	K8sPort  int    `json:"k8s_port"`
	K8sToken string `json:"k8s_token"`
	VPNIP    string `json:"vpn_ip"`
	VPNPort  int    `json:"vpn_port"`
	VPNToken string `json:"vpn_token"`
}

func (h *Handler) handleNodeToken(w http.ResponseWriter, r *http.Request) {
	var req nodeTokenRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	details, err := h.registrar.Register(r.Context(), registrar.NodeDetails{Name: req.Name, ID: req.ID})
	if err != nil {
		if errors.Is(err, registrar.ErrCooldownActive) {
			httpserver.RespondError(w, http.StatusTooManyRequests, "cooldown_active", "registration attempted again before cooldown elapsed")
			return
		}
		h.logger.Error("registering node", "name", req.Name, "error", err)
		httpserver.RespondError(w, http.StatusBadGateway, "transient_backend", "failed to register node")
		return
	}

	httpserver.Respond(w, http.StatusOK, nodeTokenResponse{
		K8sIP:    details.K8sHost,
		K8sPort:  details.K8sPort,
		K8sToken: details.NodeAccessToken,
		VPNIP:    details.VPNHost,
		VPNPort:  details.VPNPort,
		VPNToken: details.VPNToken,
	})
}

func (h *Handler) handleKeepalive(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "node_id")

	if err := h.intake.Keepalive(r.Context(), nodeID); err != nil {
		h.logger.Error("recording keepalive", "node_id", nodeID, "error", err)
		httpserver.RespondError(w, http.StatusBadGateway, "transient_backend", "failed to record keepalive")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleNodeExistsGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	online, err := h.intake.onlineCache.Contains(r.Context(), name)
	if err != nil {
		h.logger.Error("checking node existence", "name", name, "error", err)
		httpserver.RespondError(w, http.StatusBadGateway, "transient_backend", "failed to check node existence")
		return
	}

	if !online {
		httpserver.RespondError(w, http.StatusNotFound, "not_registered", "node not found")
		return
	}

	httpserver.Respond(w, http.StatusOK, true)
}

func (h *Handler) handleNodeExistsPost(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.intake.GracefulShutdown(r.Context(), name); err != nil {
		if errors.Is(err, ErrNotRegistered) {
			httpserver.RespondError(w, http.StatusNotFound, "not_registered", "node not found")
			return
		}
		h.logger.Error("scheduling graceful shutdown", "name", name, "error", err)
		httpserver.RespondError(w, http.StatusBadGateway, "transient_backend", "failed to schedule shutdown")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "scheduled"})
}

func (h *Handler) handleClusterAccess(w http.ResponseWriter, r *http.Request) {
	body, err := h.adapter.GetKubeconfigFile(r.Context())
	if err != nil {
		h.logger.Error("reading cluster access file", "error", err)
		httpserver.RespondError(w, http.StatusBadGateway, "transient_backend", "failed to read cluster access configuration")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
