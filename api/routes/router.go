package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/dispatch-backend/api/controllers"
	"github.com/angelmondragon/dispatch-backend/api/middleware"
	"github.com/angelmondragon/dispatch-backend/internal/deliveries"
	"github.com/angelmondragon/dispatch-backend/internal/inventory"
	"github.com/angelmondragon/dispatch-backend/internal/orders"
	"github.com/angelmondragon/dispatch-backend/internal/qr"
	"github.com/angelmondragon/dispatch-backend/internal/tasks"
	"github.com/angelmondragon/dispatch-backend/pkg/config"
	"github.com/angelmondragon/dispatch-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/dispatch-backend/pkg/redis"
)

// RouterParams carries everything the HTTP surface depends on.
type RouterParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DBPinger         controllers.Pinger
	RedisPinger      controllers.Pinger
	IdempotencyStore pkgredis.IdempotencyStore
	Orders           orders.Service
	Deliveries       deliveries.Service
	Inventory        inventory.Service
	Tasks            tasks.Service
	QR               qr.Service
}

func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	logg := p.Logger

	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.ActorContext(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(p.Config))
		r.Get("/ready", controllers.HealthReady(p.Config, logg, p.DBPinger, p.RedisPinger))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(p.IdempotencyStore, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.CreateOrder(p.Orders, logg))
			r.Get("/", controllers.ListOrders(p.Orders, logg))
			r.Get("/{orderId}", controllers.OrderDetail(p.Orders, logg))
			r.Post("/{orderId}/transition", controllers.TransitionOrder(p.Orders, logg))
		})

		r.Route("/deliveries", func(r chi.Router) {
			r.Post("/", controllers.CreateDelivery(p.Deliveries, logg))
			r.Get("/", controllers.ListDeliveries(p.Deliveries, logg))
			r.Get("/{deliveryId}", controllers.DeliveryDetail(p.Deliveries, logg))
			r.Post("/{deliveryId}/assign", controllers.AssignDelivery(p.Deliveries, logg))
			r.Post("/{deliveryId}/start", controllers.StartDelivery(p.Deliveries, logg))
			r.Post("/{deliveryId}/complete", controllers.CompleteDelivery(p.Deliveries, logg))
			r.Post("/{deliveryId}/issue", controllers.ReportDeliveryIssue(p.Deliveries, logg))
			r.Post("/{deliveryId}/resume", controllers.ResumeDelivery(p.Deliveries, logg))
			r.Post("/{deliveryId}/cancel", controllers.CancelDelivery(p.Deliveries, logg))
			r.Get("/{deliveryId}/qr", controllers.DeliveryQRToken(p.QR, logg))
		})

		r.Route("/qr", func(r chi.Router) {
			r.Post("/scan", controllers.ScanQR(p.QR, logg))
			r.Post("/override", controllers.QROverride(p.QR, logg))
		})

		r.Route("/stock", func(r chi.Router) {
			r.Get("/", controllers.ListStock(p.Inventory, logg))
			r.Get("/{productId}", controllers.StockDetail(p.Inventory, logg))
			r.Get("/{productId}/movements", controllers.ListStockMovements(p.Inventory, logg))
			r.Post("/{productId}/movements", controllers.RecordStockMovement(p.Inventory, logg))
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", controllers.CreateTask(p.Tasks, logg))
			r.Get("/", controllers.ListTasks(p.Tasks, logg))
			r.Post("/bulk", controllers.BulkTransitionTasks(p.Tasks, logg))
			r.Get("/{taskId}", controllers.TaskDetail(p.Tasks, logg))
			r.Post("/{taskId}/transition", controllers.TransitionTask(p.Tasks, logg))
		})
	})

	return r
}
