package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mayur-mahajan-04/Edutrack-sub000/internal/attendance"
	"github.com/mayur-mahajan-04/Edutrack-sub000/internal/auth"
	"github.com/mayur-mahajan-04/Edutrack-sub000/internal/cloudinary"
	"github.com/mayur-mahajan-04/Edutrack-sub000/internal/config"
	"github.com/mayur-mahajan-04/Edutrack-sub000/internal/face"
	"github.com/mayur-mahajan-04/Edutrack-sub000/internal/httpmiddleware"
	"github.com/mayur-mahajan-04/Edutrack-sub000/internal/queue"
	"github.com/mayur-mahajan-04/Edutrack-sub000/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	faceClient := face.NewClient(cfg.FaceServiceURL, cfg.FaceSkip)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "edutrack:marked")
	}

	loc := cfg.Location()
	repo := attendance.NewRepository(db.Client)
	sessions := attendance.NewSessionCache(repo, redisClient.Client, cfg.SessionCacheTTL)
	protocol := attendance.NewProtocol(sessions, repo, loc)
	lifecycle := attendance.NewLifecycle(sessions, repo, cfg.DefaultRadiusM, cfg.MaxSessionUsage)
	users := auth.NewUserStore(db.Client)

	// Cloudinary client (nil when not configured)
	var cdnClient *cloudinary.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cdnClient = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Token issue for known users. Credential verification happens upstream
	// in the campus SSO; by the time a user id reaches this service it is
	// already authenticated.
	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		usr, err := users.Get(c.Request.Context(), req.UserID)
		if err != nil {
			log.Printf("user lookup %s failed: %v", req.UserID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if usr == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
			return
		}

		tokens, err := auth.Issue(usr.ID, usr.Name, usr.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.Authenticate(cfg.JWTSigningKey, cfg.JWTIssuer))
	teacherGroup := authGroup.Group("", auth.RequireRole(auth.RoleTeacher))
	studentGroup := authGroup.Group("", auth.RequireRole(auth.RoleStudent))

	teacherGroup.POST("/sessions", func(c *gin.Context) {
		var req struct {
			Subject         string  `json:"subject" binding:"required"`
			DurationMinutes int     `json:"duration_minutes" binding:"required"`
			Latitude        float64 `json:"latitude"`
			Longitude       float64 `json:"longitude"`
			RadiusMeters    float64 `json:"radius_meters"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		claims, _ := auth.FromContext(c)
		tok, err := lifecycle.Create(c.Request.Context(), claims.Subject, claims.Name, req.Subject,
			req.DurationMinutes, req.Latitude, req.Longitude, req.RadiusMeters)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"session": tok, "qr_payload": tok.QRPayload()})
	})

	teacherGroup.POST("/sessions/:id/close", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		if err := lifecycle.Close(c.Request.Context(), c.Param("id"), claims.Subject); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	teacherGroup.GET("/sessions/:id/live", func(c *gin.Context) {
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		claims, _ := auth.FromContext(c)
		entries, err := lifecycle.LiveAttendance(c.Request.Context(), c.Param("id"), claims.Subject, limit, offset)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	})

	teacherGroup.GET("/stats/subjects/:subject", func(c *gin.Context) {
		day := time.Now().In(loc)
		if v := c.Query("day"); v != "" {
			parsed, err := time.ParseInLocation("2006-01-02", v, loc)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "day must be YYYY-MM-DD"})
				return
			}
			day = parsed
		}
		key := store.SubjectDayKey(c.Param("subject"), day)
		count, err := redisClient.Client.Get(c.Request.Context(), key).Int64()
		if err != nil && err != redis.Nil {
			log.Printf("stats read %s failed: %v", key, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"subject": c.Param("subject"),
			"day":     day.Format("2006-01-02"),
			"present": count,
		})
	})

	studentGroup.POST("/attendance/mark", func(c *gin.Context) {
		var req struct {
			SessionID    string  `json:"session_id" binding:"required"`
			Latitude     float64 `json:"latitude"`
			Longitude    float64 `json:"longitude"`
			FaceVerified bool    `json:"face_verified"`
			ImageURL     string  `json:"image_url"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		claims, _ := auth.FromContext(c)
		faceVerified := req.FaceVerified

		// When a selfie URL accompanies the request, derive the verification
		// flag server-side from the enrolled descriptor instead of trusting
		// the client's boolean.
		if req.ImageURL != "" {
			verified, err := verifyFace(c.Request.Context(), users, faceClient, claims.Subject, req.ImageURL, cfg.FaceMatchThreshold)
			if err != nil {
				log.Printf("face verify for student %s failed: %v", claims.Subject, err)
				verified = false // marking proceeds; a failed match is recorded, not rejected
			}
			faceVerified = verified
		}

		entry, err := protocol.Validate(c.Request.Context(), req.SessionID, claims.Subject,
			req.Latitude, req.Longitude, faceVerified)
		if err != nil {
			writeError(c, err)
			return
		}

		body, _ := json.Marshal(queue.MarkedEvent{
			EntryID:   entry.ID,
			StudentID: entry.StudentID,
			Subject:   entry.Subject,
			Day:       entry.Day,
		})
		if err := q.Publish(c.Request.Context(), queue.Message{Type: queue.TypeMarked, Body: body}); err != nil {
			log.Printf("queue publish failed: %v", err)
		}

		c.JSON(http.StatusCreated, gin.H{"entry": entry})
	})

	// Enroll (or refresh) the caller's face descriptor from a selfie URL.
	studentGroup.POST("/face/enroll", func(c *gin.Context) {
		var req struct {
			ImageURL string `json:"image_url" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		descriptor, err := faceClient.Descriptor(c.Request.Context(), req.ImageURL)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "face descriptor extraction failed"})
			return
		}

		claims, _ := auth.FromContext(c)
		if err := users.SetFaceDescriptor(c.Request.Context(), claims.Subject, descriptor); err != nil {
			log.Printf("store descriptor for %s failed: %v", claims.Subject, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"enrolled": true})
	})

	// Standalone compare of two images by cosine similarity.
	authGroup.POST("/face/compare", func(c *gin.Context) {
		var req struct {
			ImageURL1 string `json:"image_url_1" binding:"required"`
			ImageURL2 string `json:"image_url_2" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		d1, err := faceClient.Descriptor(c.Request.Context(), req.ImageURL1)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "face descriptor extraction failed"})
			return
		}
		d2, err := faceClient.Descriptor(c.Request.Context(), req.ImageURL2)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "face descriptor extraction failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"similarity": face.CosineSimilarity(d1, d2),
			"matched":    face.Matches(d1, d2, cfg.FaceMatchThreshold),
			"threshold":  cfg.FaceMatchThreshold,
		})
	})

	// Selfie upload — returns the public URL the face endpoints consume.
	authGroup.POST("/upload", func(c *gin.Context) {
		if cdnClient == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
			return
		}

		contentType := c.ContentType()
		var result *cloudinary.UploadResult
		var err error

		switch {
		case strings.Contains(contentType, "multipart/form-data"):
			file, header, ferr := c.Request.FormFile("file")
			if ferr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
				return
			}
			defer file.Close()
			data, ferr := io.ReadAll(file)
			if ferr != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
				return
			}
			result, err = cdnClient.UploadBytes(data, header.Filename)

		default:
			var body struct {
				Data string `json:"data" binding:"required"`
			}
			if berr := c.ShouldBindJSON(&body); berr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "provide {\"data\": \"<base64 data URL>\"}"})
				return
			}
			result, err = cdnClient.UploadBase64(body.Data)
		}

		if err != nil {
			log.Printf("cloudinary upload failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"url":       result.SecureURL,
			"public_id": result.PublicID,
			"bytes":     result.Bytes,
		})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// verifyFace fetches a fresh descriptor for the selfie and compares it with
// the student's enrolled one.
func verifyFace(ctx context.Context, users *auth.UserStore, fc *face.Client, studentID, imageURL string, threshold float64) (bool, error) {
	usr, err := users.Get(ctx, studentID)
	if err != nil {
		return false, err
	}
	if usr == nil || len(usr.FaceDescriptor) == 0 {
		return false, nil // nothing enrolled to compare against
	}
	fresh, err := fc.Descriptor(ctx, imageURL)
	if err != nil {
		return false, err
	}
	return face.Matches(fresh, usr.FaceDescriptor, threshold), nil
}

// writeError maps domain failures to HTTP responses. Rejections carry their
// kind and, for out-of-range, the distance details; everything else is an
// opaque internal error.
func writeError(c *gin.Context, err error) {
	r, ok := attendance.AsRejection(err)
	if !ok {
		log.Printf("internal error on %s: %v", c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	body := gin.H{"error": r.Message, "kind": string(r.Kind)}
	status := http.StatusBadRequest
	switch r.Kind {
	case attendance.KindInvalidSession:
		status = http.StatusNotFound
	case attendance.KindSessionExpired:
		status = http.StatusGone
	case attendance.KindCapReached, attendance.KindDuplicateSubmission:
		status = http.StatusConflict
	case attendance.KindOutOfRange:
		status = http.StatusUnprocessableEntity
		body["distance_meters"] = r.DistanceMeters
		body["required_radius_meters"] = r.RequiredRadiusMeters
	case attendance.KindUnauthorized:
		status = http.StatusForbidden
	case attendance.KindInvalidInput:
		status = http.StatusBadRequest
	}
	c.JSON(status, body)
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
