package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
)

func (app *application) routes() http.Handler {
	standardMiddleware := alice.New(app.recoverPanic, app.logRequest, secureHeaders)
	jsonMiddleware := standardMiddleware.Append(makeResponseJSON)

	mux := pat.New()

	// Offer
	mux.Get("/offer", jsonMiddleware.ThenFunc(app.offers.GetOffer))
	mux.Post("/offer/accept", jsonMiddleware.ThenFunc(app.offers.AcceptOffer))
	mux.Post("/offer/dismiss", jsonMiddleware.ThenFunc(app.offers.DismissOffer))
	mux.Get("/offer/ws", standardMiddleware.ThenFunc(app.offers.OfferFeed))
	mux.Get("/offers/history", jsonMiddleware.ThenFunc(app.offers.ListHistory))

	// Queue
	mux.Post("/queue/join", jsonMiddleware.ThenFunc(app.offers.JoinQueue))
	mux.Post("/queue/leave", jsonMiddleware.ThenFunc(app.offers.LeaveQueue))

	mux.Get("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))

	return mux
}
