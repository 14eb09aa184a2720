// Command mfacore-demo runs a small HTTP front end over the authentication
// engine. It is meant for local exploration, not production: mail and SMS go
// to the log, and when no Redis address is configured an embedded miniredis
// is started.
//
// Configuration comes from the environment (a .env file is loaded if
// present):
//
//	LISTEN_ADDR  address to serve on (default :8080)
//	REDIS_ADDR   Redis address; empty starts embedded miniredis
//	SQLITE_DSN   SQLite DSN (default file:mfacore-demo.db)
//	JWT_SECRET   HS256 signing secret (default is random per process)
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nvrivera/mfacore"
	promexport "github.com/nvrivera/mfacore/metrics/export/prometheus"
	"github.com/nvrivera/mfacore/middleware"
)

func main() {
	_ = godotenv.Load()

	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	addr := envOr("LISTEN_ADDR", ":8080")

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			log.Fatal("embedded redis", zap.Error(err))
		}
		defer mr.Close()
		redisAddr = mr.Addr()
		log.Info("using embedded redis", zap.String("addr", redisAddr))
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})

	db, err := gorm.Open(sqlite.Open(envOr("SQLITE_DSN", "file:mfacore-demo.db")), &gorm.Config{})
	if err != nil {
		log.Fatal("open sqlite", zap.Error(err))
	}

	cfg := mfacore.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(envOr("JWT_SECRET", randomSecret()))
	cfg.Audit.PersistToDB = true

	engine, err := mfacore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDB(db).
		WithLogger(log).
		Build()
	if err != nil {
		log.Fatal("engine build", zap.Error(err))
	}
	defer engine.Close()

	router := gin.New()
	router.Use(gin.Recovery())
	mountRoutes(router, engine)
	router.GET("/metrics", gin.WrapH(promexport.NewExporter(engine).Handler()))

	guarded := middleware.Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ := middleware.SessionFromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(info)
	}))
	router.GET("/me", gin.WrapH(guarded))

	log.Info("listening", zap.String("addr", addr))
	if err := router.Run(addr); err != nil {
		log.Fatal("serve", zap.Error(err))
	}
}

func mountRoutes(router *gin.Engine, engine *mfacore.Engine) {
	router.POST("/register", func(c *gin.Context) {
		var req mfacore.RegisterInput
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := engine.Register(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	})

	router.POST("/activate", func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Code     string `json:"code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := engine.ActivateAccount(c.Request.Context(), req.Username, req.Code); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	router.POST("/login", func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := engine.Login(c.Request.Context(), req.Username, req.Password, c.ClientIP())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	router.POST("/mfa/email/request", func(c *gin.Context) {
		requestChallenge(c, engine.RequestEmailCode)
	})
	router.POST("/mfa/sms/request", func(c *gin.Context) {
		requestChallenge(c, engine.RequestSMSCode)
	})

	router.POST("/mfa/email/validate", func(c *gin.Context) {
		validateCode(c, engine.ValidateEmailCode)
	})
	router.POST("/mfa/sms/validate", func(c *gin.Context) {
		validateCode(c, engine.ValidateSMSCode)
	})

	router.POST("/mfa/questions/request", func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := engine.RequestQuestions(c.Request.Context(), req.UserID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	router.POST("/mfa/questions/validate", func(c *gin.Context) {
		var req struct {
			UserID  string               `json:"user_id" binding:"required"`
			Answers []mfacore.AnswerInput `json:"answers" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := engine.ValidateAnswers(c.Request.Context(), req.UserID, req.Answers, c.ClientIP())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	router.POST("/mfa/usb/request", func(c *gin.Context) {
		requestChallenge(c, engine.RequestUSBChallenge)
	})
	router.POST("/mfa/usb/validate", func(c *gin.Context) {
		var req struct {
			UserID     string `json:"user_id" binding:"required"`
			Identifier string `json:"identifier" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := engine.ValidateUSBToken(c.Request.Context(), req.UserID, req.Identifier, c.ClientIP())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	router.POST("/recovery/request", func(c *gin.Context) {
		var req struct {
			Email string `json:"email" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := engine.RequestRecovery(c.Request.Context(), req.Email); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusAccepted)
	})

	router.POST("/recovery/reset", func(c *gin.Context) {
		var req struct {
			Token       string `json:"token" binding:"required"`
			NewPassword string `json:"new_password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := engine.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	router.GET("/session", func(c *gin.Context) {
		info, err := engine.ValidateSession(c.Request.Context(), bearerToken(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	})

	router.POST("/logout", func(c *gin.Context) {
		if err := engine.Logout(c.Request.Context(), bearerToken(c)); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func requestChallenge(c *gin.Context, issue func(ctx context.Context, userID string) (*mfacore.ChallengeInfo, error)) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	info, err := issue(c.Request.Context(), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func validateCode(c *gin.Context, validate func(ctx context.Context, userID, code, origin string) (*mfacore.AuthResult, error)) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
		Code   string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := validate(c.Request.Context(), req.UserID, req.Code, c.ClientIP())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func bearerToken(c *gin.Context) string {
	const prefix = "Bearer "
	h := c.GetHeader("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return h
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, mfacore.ErrInvalidCredentials),
		errors.Is(err, mfacore.ErrTokenInvalid),
		errors.Is(err, mfacore.ErrRecoveryTokenInvalid):
		status = http.StatusUnauthorized
	case errors.Is(err, mfacore.ErrAccountLocked),
		errors.Is(err, mfacore.ErrAccountInactive):
		status = http.StatusForbidden
	case errors.Is(err, mfacore.ErrAccountExists):
		status = http.StatusConflict
	case errors.Is(err, mfacore.ErrUserNotFound),
		errors.Is(err, mfacore.ErrSessionNotFound),
		errors.Is(err, mfacore.ErrChallengeMissing):
		status = http.StatusNotFound
	case errors.Is(err, mfacore.ErrChallengeInvalid),
		errors.Is(err, mfacore.ErrChallengeExpired),
		errors.Is(err, mfacore.ErrChallengeConsumed),
		errors.Is(err, mfacore.ErrSessionExpired),
		errors.Is(err, mfacore.ErrPasswordPolicy),
		errors.Is(err, mfacore.ErrDeviceNotRegistered),
		errors.Is(err, mfacore.ErrQuestionsNotConfigured):
		status = http.StatusBadRequest
	}
	body := gin.H{"error": err.Error()}
	if remaining, ok := mfacore.RemainingAttempts(err); ok {
		body["attempts_remaining"] = remaining
	}
	c.JSON(status, body)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return string(buf)
}
