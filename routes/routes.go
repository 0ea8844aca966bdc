package routes

import (
	"fmt"
	"net/http"

	"mentorly/booking"
	"mentorly/live"
	"mentorly/middleware"
	"mentorly/ratelim"

	"github.com/julienschmidt/httprouter"
)

// Index is a simple health check handler.
func Index(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	fmt.Fprint(w, "200")
}

type Deps struct {
	Booking     *booking.Handlers
	Hub         *live.Hub
	RateLimiter *ratelim.RateLimiter
	Idempotency middleware.IdempotencyStore
}

func New(d Deps) *httprouter.Router {
	router := httprouter.New()
	router.GET("/health", Index)
	AddMentorRequestRoutes(router, d)
	AddCollaborationRoutes(router, d)
	AddPaymentRoutes(router, d)
	router.GET("/ws/notifications", d.Hub.HandleWS)
	return router
}

func authed(d Deps) func(httprouter.Handle) httprouter.Handle {
	return middleware.Chain(middleware.Authenticate, d.RateLimiter.Limit)
}

// mutating routes also honour Idempotency-Key
func mutating(d Deps) func(httprouter.Handle) httprouter.Handle {
	mws := []func(httprouter.Handle) httprouter.Handle{middleware.Authenticate, d.RateLimiter.Limit}
	if d.Idempotency != nil {
		mws = append(mws, middleware.Idempotency(d.Idempotency))
	}
	return middleware.Chain(mws...)
}

func AddMentorRequestRoutes(router *httprouter.Router, d Deps) {
	h := d.Booking
	router.POST("/api/mentor-requests", mutating(d)(h.CreateRequest))
	router.GET("/api/mentor-requests", authed(d)(h.ListRequests))
	router.PUT("/api/mentor-requests/:id/accept", authed(d)(h.AcceptRequest))
	router.PUT("/api/mentor-requests/:id/reject", authed(d)(h.RejectRequest))
	router.POST("/api/mentor-requests/:id/pay", mutating(d)(h.Pay))
	router.GET("/api/mentors/:id/locked-slots", middleware.Chain(middleware.OptionalAuth, d.RateLimiter.Limit)(h.LockedSlots))
}

func AddCollaborationRoutes(router *httprouter.Router, d Deps) {
	h := d.Booking
	router.GET("/api/collaborations", authed(d)(h.ListCollaborations))
	router.GET("/api/collaborations/:id", authed(d)(h.GetCollaboration))
	router.POST("/api/collaborations/:id/cancel", mutating(d)(h.Cancel))
	router.POST("/api/collaborations/:id/unavailable-days", mutating(d)(h.RequestUnavailableDays))
	router.PUT("/api/collaborations/:id/unavailable-days/:reqId", authed(d)(h.DecideUnavailableDays))
	router.POST("/api/collaborations/:id/slot-changes", mutating(d)(h.RequestSlotChange))
	router.PUT("/api/collaborations/:id/slot-changes/:reqId", authed(d)(h.DecideSlotChange))
	router.POST("/api/collaborations/:id/feedback", authed(d)(h.Feedback))
	router.GET("/api/collaborations/:id/receipt", authed(d)(h.Receipt))
}

func AddPaymentRoutes(router *httprouter.Router, d Deps) {
	router.GET("/api/payments/:intentId",
		middleware.Chain(
			middleware.Authenticate,
			middleware.RequireRoles("admin"),
		)(d.Booking.VerifyPayment),
	)
}
