package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"commerce-core/internal/cart"
	"commerce-core/internal/loyalty"
	"commerce-core/internal/models"
	"commerce-core/internal/order"
	"commerce-core/internal/pricing"
	"commerce-core/internal/store"
	"commerce-core/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// CheckoutLocks is the distributed checkout fast path: a per-user lock and
// the shared multiplier cache. redisclient.Client implements it.
type CheckoutLocks interface {
	AcquireCheckoutLock(ctx context.Context, userID string, ttl time.Duration) (bool, error)
	ReleaseCheckoutLock(ctx context.Context, userID string) error
	GetCachedMultiplier(ctx context.Context) (string, error)
}

// Handler contains HTTP handlers
type Handler struct {
	sessions  *SessionCarts
	lifecycle *order.Lifecycle
	ledger    *loyalty.Ledger
	policy    *pricing.Policy
	catalog   *store.Store
	locks     CheckoutLocks
	lockTTL   time.Duration
}

// NewHandler creates a new HTTP handler. locks may be nil; the lifecycle's
// in-process guard still rejects concurrent checkouts on a single node.
func NewHandler(
	sessions *SessionCarts,
	lifecycle *order.Lifecycle,
	ledger *loyalty.Ledger,
	policy *pricing.Policy,
	catalog *store.Store,
	locks CheckoutLocks,
	lockTTL time.Duration,
) *Handler {
	return &Handler{
		sessions:  sessions,
		lifecycle: lifecycle,
		ledger:    ledger,
		policy:    policy,
		catalog:   catalog,
		locks:     locks,
		lockTTL:   lockTTL,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(requireUser())
	{
		v1.GET("/products", h.listProducts)
		v1.GET("/pricing/multiplier", h.getMultiplier)

		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PATCH("/cart/items", h.updateCartItem)
		v1.DELETE("/cart/items/:productId", h.removeCartItem)
		v1.DELETE("/cart", h.clearCart)
		v1.POST("/cart/coupon", h.applyCoupon)
		v1.DELETE("/cart/coupon", h.removeCoupon)

		v1.POST("/checkout", h.checkout)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)

		v1.GET("/loyalty", h.getLoyalty)

		admin := v1.Group("/admin")
		{
			admin.GET("/orders", h.adminListOrders)
			admin.PATCH("/orders/:id/status", h.adminUpdateStatus)
		}
	}
}

// requireUser pulls the user id supplied by the identity provider. The core
// treats it as an opaque string and performs no authentication itself.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing X-User-ID header",
			})
			return
		}
		c.Set("userID", userID)
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetString("userID")
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// listProducts returns the catalog with live demand-adjusted price previews
func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.catalog.ListProducts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Catalog unavailable, please retry",
		})
		return
	}

	now := time.Now()
	type productView struct {
		models.Product
		CurrentPrice string `json:"current_price"`
	}
	views := make([]productView, 0, len(products))
	for _, p := range products {
		views = append(views, productView{
			Product:      p,
			CurrentPrice: h.policy.LinePrice(p.BasePrice, now).StringFixed(2),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"products":   views,
		"multiplier": h.policy.Multiplier(now).StringFixed(2),
	})
}

// getMultiplier returns the demand multiplier for price previews, preferring
// the periodically cached value so every storefront node shows the same rate
func (h *Handler) getMultiplier(c *gin.Context) {
	if h.locks != nil {
		if cached, err := h.locks.GetCachedMultiplier(c.Request.Context()); err == nil && cached != "" {
			if m, perr := decimal.NewFromString(cached); perr == nil {
				c.JSON(http.StatusOK, gin.H{"multiplier": m.StringFixed(2), "source": "cached"})
				return
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"multiplier": h.policy.Multiplier(time.Now()).StringFixed(2),
		"source":     "live",
	})
}

type cartView struct {
	Lines      []models.CartLine `json:"lines"`
	CouponCode string            `json:"coupon_code,omitempty"`
	ItemCount  int               `json:"item_count"`
	Preview    *totalsView       `json:"preview,omitempty"`
}

type totalsView struct {
	Subtotal string `json:"subtotal"`
	Shipping string `json:"shipping"`
	Discount string `json:"discount"`
	Total    string `json:"total"`
}

func viewTotals(t models.Totals) *totalsView {
	return &totalsView{
		Subtotal: t.Subtotal.StringFixed(2),
		Shipping: t.Shipping.StringFixed(2),
		Discount: t.Discount.StringFixed(2),
		Total:    t.Total.StringFixed(2),
	}
}

// getCart returns the cart with a live (non-binding) price preview
func (h *Handler) getCart(c *gin.Context) {
	userCart := h.sessions.Get(userID(c))
	snap := userCart.Snapshot()

	view := cartView{
		Lines:      snap.Lines,
		CouponCode: snap.CouponCode,
		ItemCount:  userCart.ItemCount(),
	}

	if !snap.Empty() {
		frozen := h.policy.FreezeLines(snap.Lines, time.Now())
		if totals, err := h.policy.OrderTotal(frozen, snap.CouponCode); err == nil {
			view.Preview = viewTotals(totals)
		}
	}

	c.JSON(http.StatusOK, view)
}

type addItemRequest struct {
	ProductID  string `json:"product_id" binding:"required"`
	VariantKey string `json:"variant_key"`
	Quantity   int    `json:"quantity" binding:"required"`
}

// addCartItem adds or merges a cart line
func (h *Handler) addCartItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), req.ProductID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Product not found",
		})
		return
	}

	userCart := h.sessions.Get(userID(c))
	err = userCart.AddItem(models.CartLine{
		ProductID:     req.ProductID,
		VariantKey:    req.VariantKey,
		UnitBasePrice: product.BasePrice,
		Quantity:      req.Quantity,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"item_count": userCart.ItemCount()})
}

type updateItemRequest struct {
	ProductID  string `json:"product_id" binding:"required"`
	VariantKey string `json:"variant_key"`
	Quantity   int    `json:"quantity"`
}

// updateCartItem sets a line quantity; zero or below removes the line
func (h *Handler) updateCartItem(c *gin.Context) {
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	userCart := h.sessions.Get(userID(c))
	userCart.UpdateQuantity(req.ProductID, req.VariantKey, req.Quantity)
	c.JSON(http.StatusOK, gin.H{"item_count": userCart.ItemCount()})
}

// removeCartItem removes a line; removing a missing line is a no-op
func (h *Handler) removeCartItem(c *gin.Context) {
	userCart := h.sessions.Get(userID(c))
	userCart.RemoveItem(c.Param("productId"), c.Query("variant"))
	c.JSON(http.StatusOK, gin.H{"item_count": userCart.ItemCount()})
}

// clearCart empties the cart
func (h *Handler) clearCart(c *gin.Context) {
	h.sessions.Get(userID(c)).Clear()
	c.Status(http.StatusNoContent)
}

type couponRequest struct {
	Code string `json:"code" binding:"required"`
}

// applyCoupon validates a code against the pricing policy and stores it on
// the cart, replacing any previously applied coupon
func (h *Handler) applyCoupon(c *gin.Context) {
	var req couponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	pct, err := h.policy.CouponPercent(req.Code)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid coupon code",
		})
		return
	}

	h.sessions.Get(userID(c)).ApplyCoupon(req.Code)
	c.JSON(http.StatusOK, gin.H{"code": req.Code, "percent_off": pct})
}

// removeCoupon clears the applied coupon
func (h *Handler) removeCoupon(c *gin.Context) {
	h.sessions.Get(userID(c)).RemoveCoupon()
	c.Status(http.StatusNoContent)
}

type checkoutRequest struct {
	Shipping       models.ShippingInfo `json:"shipping" binding:"required"`
	PaymentMethod  string              `json:"payment_method" binding:"required"`
	CouponCode     string              `json:"coupon_code"`
	IdempotencyKey string              `json:"idempotency_key"`
}

// checkout places an order from the session cart
func (h *Handler) checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	uid := userID(c)
	if h.locks != nil {
		acquired, err := h.locks.AcquireCheckoutLock(c.Request.Context(), uid, h.lockTTL)
		if err == nil && !acquired {
			c.JSON(http.StatusConflict, gin.H{"error": "Checkout already in progress"})
			return
		}
		if err == nil {
			defer func() {
				// The request context is already cancelled when the client
				// disconnects mid-checkout; release on a fresh deadline so
				// the user is not locked out until the TTL expires.
				releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				_ = h.locks.ReleaseCheckoutLock(releaseCtx, uid)
			}()
		}
	}

	userCart := h.sessions.Get(uid)
	placed, err := h.lifecycle.PlaceOrder(c.Request.Context(), userCart, order.PlaceOrderRequest{
		Shipping:       req.Shipping,
		PaymentMethod:  req.PaymentMethod,
		CouponCode:     req.CouponCode,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeOrderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order_id": placed.ID,
		"status":   placed.Status,
		"totals":   viewTotals(placed.Snapshot.Totals),
	})
}

// listOrders returns the caller's order history, newest first
func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.lifecycle.ListByUser(c.Request.Context(), userID(c))
	if err != nil {
		h.writeOrderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder returns one of the caller's orders
func (h *Handler) getOrder(c *gin.Context) {
	placed, err := h.lifecycle.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeOrderError(c, err)
		return
	}
	if placed.UserID != userID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	c.JSON(http.StatusOK, placed)
}

// cancelOrder cancels one of the caller's orders
func (h *Handler) cancelOrder(c *gin.Context) {
	placed, err := h.lifecycle.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeOrderError(c, err)
		return
	}
	if placed.UserID != userID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}

	cancelled, err := h.lifecycle.Cancel(c.Request.Context(), placed.ID)
	if err != nil {
		h.writeOrderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": cancelled.ID, "status": cancelled.Status})
}

// getLoyalty returns the caller's points, derived level and tier progress
func (h *Handler) getLoyalty(c *gin.Context) {
	account, err := h.ledger.Account(c.Request.Context(), userID(c))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Loyalty unavailable, please retry",
		})
		return
	}

	resp := gin.H{
		"user_id": account.UserID,
		"points":  account.Points,
		"level":   account.Level,
	}
	if next := loyalty.NextThreshold(account.Points); next > 0 {
		resp["points_to_next_level"] = next - account.Points
	}
	c.JSON(http.StatusOK, resp)
}

// adminListOrders returns every order for the dashboard
func (h *Handler) adminListOrders(c *gin.Context) {
	orders, err := h.lifecycle.ListAll(c.Request.Context())
	if err != nil {
		h.writeOrderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// adminUpdateStatus applies a status transition from the dashboard
func (h *Handler) adminUpdateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	updated, err := h.lifecycle.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		h.writeOrderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": updated.ID, "status": updated.Status})
}

// writeOrderError maps the error taxonomy to HTTP responses. Validation and
// state errors carry a specific message; persistence failures tell the
// caller to retry with the cart preserved.
func (h *Handler) writeOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrUnknownProduct),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, loyalty.ErrInvalidGrant),
		errors.Is(err, pricing.ErrInvalidCoupon):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, order.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})

	case errors.Is(err, order.ErrCheckoutInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "Checkout already in progress"})

	case errors.Is(err, order.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, order.ErrPersistence):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Temporary failure, please retry. Your cart is unchanged.",
		})

	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
