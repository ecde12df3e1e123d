package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dagscan/dag-indexer/internal/config"
	"github.com/dagscan/dag-indexer/internal/feed"
	"github.com/dagscan/dag-indexer/internal/store"
	"github.com/dagscan/dag-indexer/pkg"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// readTimeout is the maximum duration for reading the entire
	// request, including the body.
	readTimeout = 5 * time.Minute

	// writeTimeout is the maximum duration before timing out
	// writes of the response. It is reset whenever a new
	// request's header is read.
	writeTimeout = 5 * time.Minute

	// idleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled.
	idleTimeout = 5 * time.Minute
)

type Server struct {
	conf   *config.ServerConfig
	logger *zap.Logger
	store  *store.Store
	feed   feed.Feed
	engine *gin.Engine
	hs     *http.Server
}

func NewServer(conf *config.ServerConfig, logger *zap.Logger, store *store.Store, feed feed.Feed) *Server {

	s := &Server{
		conf:   conf,
		logger: logger,
		store:  store,
		feed:   feed,
	}

	s.initGin()
	return s
}

func (s *Server) initGin() {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(pkg.LogMiddleware(s.logger), pkg.CORSMiddleware(), gin.Recovery())

	v1 := engine.Group("/api/v1")
	v1.GET("blocks", s.blocksHandle())
	v1.GET("blocks/:hash", s.blockHandle())
	v1.GET("transactions/:hash", s.transactionHandle())
	v1.GET("addresses/:address", s.addressHandle())
	v1.GET("addresses/:address/utxos", s.addressUTXOsHandle())
	v1.GET("addresses/:address/transactions", s.addressTxsHandle())
	v1.GET("search", s.searchHandle())
	v1.GET("mempool", s.mempoolHandle())
	v1.GET("stats", s.statsHandle())
	v1.GET("stats/history", s.statsHistoryHandle())
	v1.GET("status", s.statusHandle())
	s.engine = engine
}

func (s *Server) Run() {
	addr := fmt.Sprintf("%s:%d", s.conf.Host, s.conf.Port)
	hs := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	s.hs = hs

	go func() {
		if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("listen", zap.Error(err))
		}
	}()
	s.logger.Info("listen", zap.String("addr", addr))

}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.hs.Shutdown(ctx)
}
