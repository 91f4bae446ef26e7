// Package server exposes a small operational HTTP API over the order
// lifecycle manager: inspect orders and account state, place and cancel
// orders, and scrape metrics.
package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/lumebot/lumebot/pkg/fixedpoint"
	"github.com/lumebot/lumebot/pkg/ledger"
	"github.com/lumebot/lumebot/pkg/lifecycle"
	"github.com/lumebot/lumebot/pkg/pathfinder"
	"github.com/lumebot/lumebot/pkg/reserve"
	"github.com/lumebot/lumebot/pkg/types"
)

type Server struct {
	manager *lifecycle.Manager
	calc    *reserve.Calculator
	planner *pathfinder.Planner

	Bind string
}

func New(manager *lifecycle.Manager, calc *reserve.Calculator, planner *pathfinder.Planner, bind string) *Server {
	return &Server{
		manager: manager,
		calc:    calc,
		planner: planner,
		Bind:    bind,
	}
}

func (s *Server) Run() error {
	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowMethods:     []string{"GET", "POST", "DELETE"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/api/account", func(c *gin.Context) {
		snapshot := s.manager.Account()
		if snapshot == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account snapshot not loaded yet"})
			return
		}

		available, belowReserve := s.calc.AvailableBalance(snapshot)
		c.JSON(http.StatusOK, gin.H{
			"account":        snapshot,
			"minimumBalance": s.calc.MinimumBalance(snapshot),
			"available":      available,
			"belowReserve":   belowReserve,
		})
	})

	r.GET("/api/orders", func(c *gin.Context) {
		status := c.Query("status")

		orders := s.manager.Orders()
		if status != "" {
			filtered := orders[:0]
			for _, order := range orders {
				if string(order.Status) == status {
					filtered = append(filtered, order)
				}
			}
			orders = filtered
		}

		c.JSON(http.StatusOK, gin.H{"orders": orders})
	})

	r.GET("/api/orders/:id", func(c *gin.Context) {
		order, ok := s.manager.Order(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"order": order})
	})

	r.POST("/api/orders", func(c *gin.Context) {
		payload := struct {
			ClientOrderID string           `json:"clientOrderID"`
			Base          string           `json:"base"`
			Quote         string           `json:"quote"`
			Side          string           `json:"side"`
			Quantity      fixedpoint.Value `json:"quantity"`
			Price         fixedpoint.Value `json:"price"`
		}{}

		if err := c.BindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing arguments"})
			return
		}

		base, err := types.ParseAsset(payload.Base)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		quote, err := types.ParseAsset(payload.Quote)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		so := types.SubmitOrder{
			ClientOrderID: payload.ClientOrderID,
			Pair:          types.TradingPair{Base: base, Quote: quote},
			Side:          types.SideType(payload.Side),
			Quantity:      payload.Quantity,
			Price:         payload.Price,
		}

		order, err := s.manager.PlaceOrder(c.Request.Context(), so)
		if err != nil {
			c.JSON(placementStatus(err), gin.H{
				"error": err.Error(),
				"order": order,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{"order": order})
	})

	r.DELETE("/api/orders/:id", func(c *gin.Context) {
		clientOrderID := c.Param("id")

		if err := s.manager.CancelOrder(c.Request.Context(), clientOrderID); err != nil {
			c.JSON(placementStatus(err), gin.H{"error": err.Error()})
			return
		}

		order, _ := s.manager.Order(clientOrderID)
		c.JSON(http.StatusOK, gin.H{"order": order})
	})

	r.POST("/api/paths", func(c *gin.Context) {
		if s.planner == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "path planning is not configured"})
			return
		}

		payload := struct {
			SendAsset         string           `json:"sendAsset"`
			DestAsset         string           `json:"destAsset"`
			DestAmount        fixedpoint.Value `json:"destAmount"`
			MaxHops           int              `json:"maxHops"`
			SlippageTolerance float64          `json:"slippageTolerance"`
		}{}

		if err := c.BindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing arguments"})
			return
		}

		send, err := types.ParseAsset(payload.SendAsset)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		dest, err := types.ParseAsset(payload.DestAsset)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		it, err := s.planner.FindPaths(c.Request.Context(), pathfinder.Request{
			SendAsset:         send,
			DestAsset:         dest,
			DestAmount:        payload.DestAmount,
			MaxHops:           payload.MaxHops,
			SlippageTolerance: payload.SlippageTolerance,
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var paths []pathfinder.Path
		for {
			path, ok := it.Next()
			if !ok {
				break
			}
			paths = append(paths, path)
		}

		c.JSON(http.StatusOK, gin.H{"paths": paths})
	})

	if s.Bind != "" {
		log.Infof("serving operational api on %s", s.Bind)
		return r.Run(s.Bind)
	}

	return r.Run() // listen and serve on 0.0.0.0:8080
}

// placementStatus maps the error taxonomy onto HTTP status codes so api
// callers get the same backpressure signals as in-process callers.
func placementStatus(err error) int {
	switch ledger.Classify(err) {
	case ledger.ClassBackpressure:
		return http.StatusConflict
	case ledger.ClassCircuitOpen:
		return http.StatusServiceUnavailable
	case ledger.ClassBusinessRejection:
		return http.StatusUnprocessableEntity
	case ledger.ClassTransient, ledger.ClassSuperseded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
