package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/example/printshop/pkg/config"
	"github.com/example/printshop/pkg/coupon"
	"github.com/example/printshop/pkg/dimension"
	"github.com/example/printshop/pkg/models"
	"github.com/example/printshop/pkg/order"
	"github.com/example/printshop/pkg/repository"
	"github.com/example/printshop/pkg/session"
	"github.com/example/printshop/pkg/slicer"
	"github.com/example/printshop/pkg/workflow"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

const sessionKey = "session"

// Sessions routes a request to the actor of one browser session.
type Sessions interface {
	Request(sessionID string, msg interface{}) (*session.Reply, error)
}

type Checkouts interface {
	TakeCheckout(ctx context.Context, sessionID string) (*models.CheckoutPayload, error)
}

type Catalog interface {
	Products(ctx context.Context) []models.Product
	CartCount(ctx context.Context, phone string) int
}

type History interface {
	GetAuditLogs(ctx context.Context, entityID string, limit int64) ([]*repository.AuditLog, error)
}

// Deps are the services behind the HTTP surface. History may be nil.
type Deps struct {
	Sessions  Sessions
	Checkouts Checkouts
	Catalog   Catalog
	History   History
}

type Gateway struct {
	config *config.Config
	logger *zap.Logger
	router *gin.Engine
	server *http.Server
	deps   Deps
}

// NewGateway builds the router. Routes are registered by SetupRoutes.
func NewGateway(cfg *config.Config, logger *zap.Logger, deps Deps) *Gateway {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(logger))
	if cfg.Gateway.MaxUploadMB > 0 {
		router.MaxMultipartMemory = cfg.Gateway.MaxUploadMB << 20
	}

	return &Gateway{
		config: cfg,
		logger: logger,
		router: router,
		deps:   deps,
	}
}

func (g *Gateway) SetupRoutes() {
	g.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := g.router.Group("/api/v1")
	{
		v1.GET("/products", g.listProducts)
		v1.GET("/header", g.header)

		slicing := v1.Group("/slicer", g.sessionMiddleware())
		{
			slicing.POST("/file", g.uploadFile)
			slicing.PUT("/settings", g.updateSettings)
			slicing.POST("/analyze", g.analyze)
			slicing.GET("/state", g.state)
			slicing.PUT("/details", g.setDetails)
		}

		orders := v1.Group("/order", g.sessionMiddleware())
		{
			orders.POST("/files", g.addToOrder)
			orders.DELETE("/files/:index", g.removeFile)
			orders.GET("/coupons", g.listCoupons)
			orders.POST("/coupon", g.applyCoupon)
			orders.DELETE("/coupon", g.removeCoupon)
			orders.POST("/checkout", g.checkout)
			orders.GET("/history", g.history)
		}

		v1.GET("/checkout", g.sessionMiddleware(), g.takeCheckout)
	}

	g.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

func (g *Gateway) Handler() http.Handler {
	return g.router
}

func (g *Gateway) Start() error {
	addr := fmt.Sprintf("%s:%d", g.config.Gateway.Host, g.config.Gateway.Port)
	g.logger.Info("Gateway starting", zap.String("address", addr))
	g.server = &http.Server{Addr: addr, Handler: g.router}
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

// sessionMiddleware issues a session cookie on first contact. A cookie that is not a UUID is
// replaced, since its value names the session actor and its Redis keys.
func (g *Gateway) sessionMiddleware() gin.HandlerFunc {
	name := g.config.Gateway.SessionCookie
	return func(c *gin.Context) {
		id, err := c.Cookie(name)
		if err == nil {
			if parsed, perr := uuid.Parse(id); perr == nil {
				id = parsed.String()
			} else {
				err = perr
			}
		}
		if err != nil {
			id = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(name, id, 0, "/", "", false, true)
		}
		c.Set(sessionKey, id)
		c.Next()
	}
}

func (g *Gateway) request(c *gin.Context, msg interface{}) (*session.Reply, error) {
	return g.deps.Sessions.Request(c.GetString(sessionKey), msg)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, workflow.ErrInvalidFile),
		errors.Is(err, models.ErrInvalidSettings),
		errors.Is(err, models.ErrInvalidQuantity),
		errors.Is(err, models.ErrNotesTooLong):
		return http.StatusBadRequest
	case errors.Is(err, coupon.ErrRequiresLogin):
		return http.StatusUnauthorized
	case errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, order.ErrIndexOutOfRange),
		errors.Is(err, repository.ErrCacheMiss):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, coupon.ErrAlreadyUsed),
		errors.Is(err, order.ErrEmptyOrder):
		return http.StatusConflict
	case errors.Is(err, coupon.ErrExpired):
		return http.StatusGone
	case errors.Is(err, dimension.ErrDimensionsExceeded),
		errors.Is(err, order.ErrMissingFile):
		return http.StatusUnprocessableEntity
	case errors.Is(err, slicer.ErrSlicingFailed),
		errors.Is(err, order.ErrStorageWriteFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err, with the session state when the actor answered.
func (g *Gateway) fail(c *gin.Context, reply *session.Reply, err error) {
	status := statusOf(err)
	body := gin.H{"error": err.Error()}
	if reply != nil {
		body["state"] = reply.Snapshot
	}
	if status >= http.StatusInternalServerError {
		g.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, body)
}

func (g *Gateway) respond(c *gin.Context, status int, msg interface{}) {
	reply, err := g.request(c, msg)
	if err != nil {
		g.fail(c, reply, err)
		return
	}
	c.JSON(status, gin.H{"state": reply.Snapshot})
}

func (g *Gateway) listProducts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"products": g.deps.Catalog.Products(c.Request.Context())})
}

func (g *Gateway) header(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cartCount": g.deps.Catalog.CartCount(c.Request.Context(), c.Query("phone"))})
}

func (g *Gateway) uploadFile(c *gin.Context) {
	if limit := g.config.Gateway.MaxUploadMB << 20; limit > 0 {
		if c.Request.ContentLength > limit {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	g.respond(c, http.StatusOK, &session.LoadFile{Name: fh.Filename, Data: data})
}

func (g *Gateway) updateSettings(c *gin.Context) {
	var req models.PrintSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	g.respond(c, http.StatusOK, &session.UpdateSettings{Settings: req})
}

func (g *Gateway) analyze(c *gin.Context) {
	g.respond(c, http.StatusAccepted, &session.Analyze{})
}

func (g *Gateway) state(c *gin.Context) {
	g.respond(c, http.StatusOK, &session.GetSnapshot{})
}

func (g *Gateway) setDetails(c *gin.Context) {
	var req workflow.Details
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	g.respond(c, http.StatusOK, &session.SetDetails{Details: req})
}

func (g *Gateway) addToOrder(c *gin.Context) {
	reply, err := g.request(c, &session.AddToOrder{})
	if err != nil {
		g.fail(c, reply, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"fileId": reply.FileID, "state": reply.Snapshot})
}

func (g *Gateway) removeFile(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid index"})
		return
	}
	g.respond(c, http.StatusOK, &session.RemoveFile{Index: index})
}

func (g *Gateway) listCoupons(c *gin.Context) {
	reply, err := g.request(c, &session.EligibleCoupons{Phone: c.Query("phone")})
	if err != nil {
		g.fail(c, reply, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupons": reply.Coupons})
}

type applyCouponRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

func (g *Gateway) applyCoupon(c *gin.Context) {
	var req applyCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reply, err := g.request(c, &session.ApplyCoupon{Phone: req.Phone, Code: req.Code})
	if err != nil {
		g.fail(c, reply, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupon": reply.Coupon, "state": reply.Snapshot})
}

func (g *Gateway) removeCoupon(c *gin.Context) {
	g.respond(c, http.StatusOK, &session.RemoveCoupon{})
}

func (g *Gateway) checkout(c *gin.Context) {
	reply, err := g.request(c, &session.Checkout{})
	if err != nil {
		g.fail(c, reply, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"checkout": reply.Checkout,
		"redirect": g.config.Gateway.CheckoutURL,
	})
}

// takeCheckout hands the stored payload to the checkout page once.
func (g *Gateway) takeCheckout(c *gin.Context) {
	p, err := g.deps.Checkouts.TakeCheckout(c.Request.Context(), c.GetString(sessionKey))
	if err != nil {
		g.fail(c, nil, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (g *Gateway) history(c *gin.Context) {
	if g.deps.History == nil {
		c.JSON(http.StatusOK, gin.H{"events": []interface{}{}})
		return
	}
	logs, err := g.deps.History.GetAuditLogs(c.Request.Context(), c.GetString(sessionKey), 50)
	if err != nil {
		g.fail(c, nil, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": logs})
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
