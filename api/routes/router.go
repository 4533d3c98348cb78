package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/storefront-engine/api/controllers"
	"github.com/angelmondragon/storefront-engine/api/middleware"
	"github.com/angelmondragon/storefront-engine/internal/session"
	"github.com/angelmondragon/storefront-engine/pkg/config"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
)

// NewRouter exposes the session to a local storefront UI. metricsHandler
// may be nil when metrics are disabled.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	sess *session.Session,
	pinger controllers.Pinger,
	metricsHandler http.Handler,
) http.Handler {
	if logg == nil {
		logg = logger.Nop()
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, pinger))
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.CartFetch(sess, logg))
			r.Delete("/", controllers.CartClear(sess, logg))
			r.Post("/items", controllers.CartAddItem(sess, logg))
			r.Put("/items/{productId}", controllers.CartSetQuantity(sess, logg))
			r.Delete("/items/{productId}", controllers.CartRemoveItem(sess, logg))
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Put("/delivery", controllers.CheckoutSetDelivery(sess, logg))
			r.Post("/location", controllers.CheckoutUseLocation(sess, logg))
			r.Post("/coupon", controllers.CheckoutApplyCoupon(sess, logg))
			r.Delete("/coupon", controllers.CheckoutRemoveCoupon(sess, logg))
			r.Get("/quote", controllers.CheckoutQuote(sess, logg))
			r.Post("/leave", controllers.CheckoutLeave(sess, logg))
			r.Post("/submit", controllers.CheckoutSubmit(sess, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.OrdersList(sess, logg))
			r.Get("/active-count", controllers.OrdersActiveCount(sess, logg))
			r.Post("/refresh", controllers.OrdersRefresh(sess, logg))
			r.Get("/{orderId}", controllers.OrdersGet(sess, logg))
			r.Post("/{orderId}/track", controllers.OrdersTrack(sess, logg))
			r.Post("/{orderId}/cancel", controllers.OrdersCancel(sess, logg))
		})
	})

	return r
}
