package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/roach88/stablecall/internal/host"
	"github.com/roach88/stablecall/internal/ir"
	"github.com/roach88/stablecall/internal/module"
	"github.com/roach88/stablecall/internal/proxy"
	"github.com/roach88/stablecall/internal/store"
)

// Handlers serves the v1 API for one host.
type Handlers struct {
	host *host.Host
}

// DeployProxyRequest is the body of POST /v1/proxies.
type DeployProxyRequest struct {
	Module string    `json:"module" binding:"required"`
	Args   ir.Object `json:"args"`
}

// CallRequest is the body of POST /v1/proxies/:address/call.
type CallRequest struct {
	Entry string    `json:"entry" binding:"required"`
	Args  ir.Object `json:"args"`
}

// UpgradeRequest is the body of POST /v1/proxies/:address/upgrade.
type UpgradeRequest struct {
	Module string `json:"module" binding:"required"`
}

// TransferOwnershipRequest is the body of POST /v1/proxies/:address/owner.
type TransferOwnershipRequest struct {
	Owner string `json:"owner" binding:"required"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Health reports that the server is up.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// DeployModule stores the module spec in the body.
func (h *Handlers) DeployModule(c *gin.Context) {
	var spec ir.ModuleSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		badRequest(c, err)
		return
	}
	ref, err := h.host.DeployModule(c.Request.Context(), spec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ref": ref})
}

// ListModules lists deployed modules.
func (h *Handlers) ListModules(c *gin.Context) {
	mods, err := h.host.Store().Modules(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"modules": mods})
}

// DeployProxy deploys a proxy on behalf of the caller.
func (h *Handlers) DeployProxy(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req DeployProxyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	addr, err := h.host.DeployProxy(c.Request.Context(), caller, ir.ModuleRef(req.Module), req.Args)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"address": addr})
}

// Inspect returns the decoded frame of a proxy.
func (h *Handlers) Inspect(c *gin.Context) {
	in, err := h.host.Inspect(c.Request.Context(), address(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

// Call forwards one call to the proxy.
func (h *Handlers) Call(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req CallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.host.Proxy(c.Request.Context(), address(c))
	if err != nil {
		writeError(c, err)
		return
	}
	result, err := p.Call(c.Request.Context(), caller, ir.Call{Entry: req.Entry, Args: req.Args})
	if err != nil {
		writeError(c, err)
		return
	}
	if result == nil {
		result = ir.Null{}
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// Upgrade swaps the proxy's active module.
func (h *Handlers) Upgrade(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req UpgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.host.Proxy(c.Request.Context(), address(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := p.UpgradeTo(c.Request.Context(), caller, ir.ModuleRef(req.Module)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"implementation": req.Module})
}

// TransferOwnership hands the proxy to a new owner.
func (h *Handlers) TransferOwnership(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req TransferOwnershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.host.Proxy(c.Request.Context(), address(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := p.TransferOwnership(c.Request.Context(), caller, ir.Address(req.Owner)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": req.Owner})
}

// Events lists a proxy's audit events. Query parameters: kind, after.
func (h *Handlers) Events(c *gin.Context) {
	filter := store.EventFilter{
		Proxy: address(c),
		Kind:  ir.EventKind(c.Query("kind")),
	}
	if after := c.Query("after"); after != "" {
		seq, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			badRequest(c, errors.New("after must be an integer"))
			return
		}
		filter.AfterSeq = seq
	}

	ctx := c.Request.Context()
	exists, err := h.host.Store().ProxyExists(ctx, filter.Proxy)
	if err != nil {
		writeError(c, err)
		return
	}
	if !exists {
		writeError(c, proxy.ErrProxyNotFound)
		return
	}
	events, err := h.host.Store().Events(ctx, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func address(c *gin.Context) ir.Address {
	return ir.Address(c.Param("address"))
}

func requireCaller(c *gin.Context) (ir.Address, bool) {
	caller := c.GetHeader(CallerHeader)
	if caller == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrorResponse{
			Code:    "MISSING_CALLER",
			Message: CallerHeader + " header is required",
		}})
		return "", false
	}
	return ir.Address(caller), true
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrorResponse{
		Code:    "BAD_REQUEST",
		Message: err.Error(),
	}})
}

// writeError maps a host or proxy error to a status and error body.
func writeError(c *gin.Context, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": ErrorResponse{
		Code:    code,
		Message: err.Error(),
	}})
}

func classify(err error) (int, string) {
	switch code := proxy.CodeOf(err); code {
	case proxy.ErrCodeUnauthorized:
		return http.StatusForbidden, string(code)
	case proxy.ErrCodeAlreadyInitialized, proxy.ErrCodeIncompatibleLayout:
		return http.StatusConflict, string(code)
	case proxy.ErrCodeInvalidModule, proxy.ErrCodeForwardingFailure:
		return http.StatusUnprocessableEntity, string(code)
	case proxy.ErrCodeInvalidArgument:
		return http.StatusBadRequest, string(code)
	case proxy.ErrCodeProxyNotFound:
		return http.StatusNotFound, string(code)
	}

	switch {
	case errors.Is(err, proxy.ErrProxyNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, string(proxy.ErrCodeProxyNotFound)
	case errors.Is(err, module.ErrInvalidSpec):
		return http.StatusBadRequest, "INVALID_SPEC"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
