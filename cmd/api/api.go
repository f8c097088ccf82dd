package api

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/mentorlink/mentorlink-server/cmd/models"
	"github.com/mentorlink/mentorlink-server/service/dispute"
	"github.com/mentorlink/mentorlink-server/service/jobs"
	"github.com/mentorlink/mentorlink-server/service/notification"
	"github.com/mentorlink/mentorlink-server/service/payment"
	"github.com/mentorlink/mentorlink-server/service/payout"
	"github.com/mentorlink/mentorlink-server/service/reschedule"
	"github.com/mentorlink/mentorlink-server/service/session"
	"github.com/mentorlink/mentorlink-server/service/slot"
	"github.com/mentorlink/mentorlink-server/service/user"
	"github.com/mentorlink/mentorlink-server/service/video"
	"github.com/mentorlink/mentorlink-server/service/watchdog"
	"github.com/mentorlink/mentorlink-server/service/ws"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type APIServer struct {
	address string
	db      *gorm.DB
	logger  *logrus.Logger

	queue *jobs.Queue
	dog   *watchdog.Watchdog
}

func NewApiServer(address string, db *gorm.DB, logger *logrus.Logger) *APIServer {
	return &APIServer{
		address: address,
		db:      db,
		logger:  logger,
	}
}

func (s *APIServer) Run() error {
	router := mux.NewRouter()
	subrouter := router.PathPrefix("/api/v1").Subrouter()

	// Payment gateways. The default provider opens new intents; webhooks
	// route to whichever gateway the URL names.
	registry := payment.NewRegistry(payment.NewPaystackGateway(), payment.NewStripeGateway())
	defaultProvider := os.Getenv("PAYMENT_PROVIDER")
	if defaultProvider == "" {
		defaultProvider = "paystack"
	}
	gateway, ok := registry.Get(defaultProvider)
	if !ok {
		s.logger.Fatalf("Unknown default payment provider: %s", defaultProvider)
	}

	hub := ws.NewHub(s.logger)
	go hub.Run()

	dispatcher := notification.NewDispatcher(s.db, s.logger)
	slots := slot.NewStore(s.db)
	queue := jobs.NewQueue(s.db, s.logger)

	orch := session.NewOrchestrator(s.db, slots, queue, gateway, dispatcher, hub, s.logger)
	reconciler := payment.NewReconciler(s.db, orch, s.logger)
	gate := dispute.NewGate(s.db)
	releaser := payout.NewReleaser(s.db, gate, dispatcher, s.logger)
	provisioner := video.NewProvisioner(s.db, video.NewClient(), dispatcher, s.logger)
	workflow := reschedule.NewWorkflow(s.db, slots, orch, s.logger)

	queue.Register(jobs.TypePayoutRelease, releaser.HandleRelease)
	queue.Register(jobs.TypeVideoCreate, provisioner.HandleCreate)
	queue.Register(jobs.TypeVideoCleanup, provisioner.HandleCleanup)
	queue.Register(jobs.TypePaymentRefund, refundHandler(reconciler, registry))

	user.NewHandler(s.db, s.logger).RegisterRoutes(subrouter)
	slot.NewSlotHandler(s.db, slots).RegisterRoutes(subrouter)
	session.NewHandler(s.db, orch, s.logger).RegisterRoutes(subrouter)
	payment.NewHandler(s.db, registry, reconciler, s.logger).RegisterRoutes(subrouter)
	reschedule.NewHandler(s.db, workflow, s.logger).RegisterRoutes(subrouter)
	dispute.NewHandler(s.db, gate, queue, orch, s.logger).RegisterRoutes(subrouter)
	payout.NewHandler(s.db).RegisterRoutes(subrouter)
	notification.NewHandler(s.db).RegisterRoutes(subrouter)
	video.NewHandler(s.db, s.logger).RegisterRoutes(subrouter)
	ws.NewHandler(hub, s.logger).RegisterRoutes(router)

	s.queue = queue
	s.dog = watchdog.New(s.db, orch, workflow, s.logger)
	s.queue.Start()
	s.dog.Start()

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Paystack-Signature", "Stripe-Signature"}),
	)

	s.logger.Infof("Server running at %s", s.address)
	return http.ListenAndServe(s.address, handlers.LoggingHandler(os.Stdout, cors(router)))
}

// Stop halts the background runners; the HTTP listener dies with the process.
func (s *APIServer) Stop() {
	if s.queue != nil {
		s.queue.Stop()
	}
	if s.dog != nil {
		s.dog.Stop()
	}
}

// refundHandler adapts the reconciler's refund entry point to the queue's
// handler signature.
func refundHandler(r *payment.Reconciler, registry *payment.Registry) jobs.HandlerFunc {
	return func(job *models.ScheduledJob) error {
		var payload jobs.RefundPayload
		if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
			return err
		}
		return r.Refund(registry, payload.PaymentID, payload.Fraction)
	}
}
