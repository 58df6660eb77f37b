package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"auto-scholar/config"
	"auto-scholar/llm"
	"auto-scholar/models"
	"auto-scholar/providers"
	"auto-scholar/providers/huggingface"
	"auto-scholar/services"
	"auto-scholar/storage"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	newPapersCounter        prometheus.Counter
	reportsGeneratedCounter prometheus.Counter
	reportFailuresCounter   prometheus.Counter
)

func init() {
	newPapersCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "new_papers_added_total",
			Help: "Total number of new papers added to the database.",
		},
	)
	reportsGeneratedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reports_generated_total",
			Help: "Total number of analysis reports generated successfully.",
		},
	)
	reportFailuresCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "report_generation_failures_total",
			Help: "Total number of failed report generation attempts.",
		},
	)
	prometheus.MustRegister(newPapersCounter, reportsGeneratedCounter, reportFailuresCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

// s3MirrorWriter schreibt Reports lokal und spiegelt sie zusätzlich in den
// konfigurierten Backup-Bucket. Upload-Fehler werden geloggt, blockieren den
// Report aber nicht.
type s3MirrorWriter struct {
	inner  *services.DocumentWriter
	cfg    *config.Config
	client *s3.Client
	logger *zap.Logger
}

func (w *s3MirrorWriter) WriteReport(paper *models.Paper, content map[string]string, llmModel string) (string, error) {
	path, err := w.inner.WriteReport(paper, content, llmModel)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("Report konnte für S3-Spiegelung nicht gelesen werden",
			zap.String("path", path), zap.Error(err))
		return path, nil
	}
	key := filepath.Base(path)
	if rel, err := filepath.Rel(w.cfg.StorageReportsPath, path); err == nil {
		key = filepath.ToSlash(rel)
	}
	if _, err := storage.UploadFile(w.client, w.cfg.BackupS3Bucket, key, data, w.cfg); err != nil {
		w.logger.Warn("S3-Spiegelung des Reports fehlgeschlagen",
			zap.String("key", key), zap.Error(err))
	}
	return path, nil
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}
	if err := cfg.EnsureStorageDirs(); err != nil {
		logging.Fatal("Storage directories could not be created", zap.Error(err))
	}

	// Setup Database Connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to database.")

	// Auto-Migration
	logging.Info("Running database auto-migration...")
	if err := db.AutoMigrate(&models.Paper{}, &models.Report{}, &models.Task{}); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	// Setup Providers
	enabledProviders := []providers.Provider{
		huggingface.NewFetcher(cfg, logging),
	}

	// Setup Services
	reportService := llm.NewReportService(cfg, logging)
	documentWriter := services.NewDocumentWriter(cfg.StorageReportsPath, logging)

	var reportWriter services.ReportWriter = documentWriter
	if cfg.BackupS3Bucket != "" {
		s3Client, err := storage.NewS3Client(cfg)
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
		reportWriter = &s3MirrorWriter{inner: documentWriter, cfg: cfg, client: s3Client, logger: logging}
		logging.Info("S3 mirroring for reports enabled", zap.String("bucket", cfg.BackupS3Bucket))
	}

	orchestrator := services.NewOrchestrator(cfg, db, logging, enabledProviders, reportService, reportWriter)
	taskRunner := services.NewTaskRunner(db, logging)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "auto-scholar"})
	})

	// Setup Routes
	setupPaperRoutes(router, db, logging)
	setupReportRoutes(router, db, cfg, logging)
	setupTaskRoutes(router, db, orchestrator, taskRunner, logging)

	// Setup Cron
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronCrawlSchedule, func() {
		logging.Info("Running scheduled crawl job...")
		_, err := taskRunner.Run(context.Background(), models.TaskTypeCrawl, models.TriggerScheduled, nil,
			func(ctx context.Context) (map[string]interface{}, error) {
				result, err := orchestrator.Ingest(ctx, "huggingface", "", 0)
				if err != nil {
					return nil, err
				}
				newPapersCounter.Add(float64(result.Saved))
				return map[string]interface{}{
					"total_fetched": result.TotalFetched,
					"saved":         result.Saved,
					"duplicates":    result.Duplicates,
					"failed":        result.Failed,
				}, nil
			})
		if err != nil {
			logging.Error("Scheduled crawl job failed", zap.Error(err))
		}
	})
	cronScheduler.AddFunc(cfg.CronGenerateSchedule, func() {
		logging.Info("Running scheduled generate job...")
		_, err := taskRunner.Run(context.Background(), models.TaskTypeGenerateBatch, models.TriggerScheduled, nil,
			func(ctx context.Context) (map[string]interface{}, error) {
				result, err := orchestrator.AnalyzeBatch(ctx, "", 0)
				if err != nil {
					return nil, err
				}
				reportsGeneratedCounter.Add(float64(result.Success))
				reportFailuresCounter.Add(float64(result.Failed))
				return map[string]interface{}{
					"total_processed": result.TotalProcessed,
					"success":         result.Success,
					"failed":          result.Failed,
				}, nil
			})
		if err != nil {
			logging.Error("Scheduled generate job failed", zap.Error(err))
		}
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func setupPaperRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/papers")

	// GET mit optionalen Filtern über Query-Parameter
	rg.GET("/", func(c *gin.Context) {
		query := db.Model(&models.Paper{})

		if source := c.Query("source"); source != "" {
			query = query.Where("source = ?", source)
		}
		if status := c.Query("status"); status != "" {
			query = query.Where("status = ?", status)
		}
		if skip, err := strconv.Atoi(c.DefaultQuery("skip", "0")); err == nil && skip > 0 {
			query = query.Offset(skip)
		}
		limit := 100
		if l, err := strconv.Atoi(c.DefaultQuery("limit", "100")); err == nil && l > 0 {
			limit = l
		}
		query = query.Limit(limit)

		var papers []models.Paper
		if err := query.Order("created_at desc").Find(&papers).Error; err != nil {
			log.Error("Database query for papers failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, papers)
	})

	rg.GET("/:paper_id", func(c *gin.Context) {
		paperID := c.Param("paper_id")
		var paper models.Paper
		if err := db.Where("paper_id = ?", paperID).First(&paper).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "paper not found"})
				return
			}
			log.Error("DB error fetching paper", zap.String("paper_id", paperID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, paper)
	})

	rg.GET("/:paper_id/reports", func(c *gin.Context) {
		paperID := c.Param("paper_id")
		var paper models.Paper
		if err := db.Where("paper_id = ?", paperID).First(&paper).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "paper not found"})
				return
			}
			log.Error("DB error fetching paper", zap.String("paper_id", paperID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		var reports []models.Report
		if err := db.Where("paper_id = ?", paper.ID).Order("created_at desc").Find(&reports).Error; err != nil {
			log.Error("DB error fetching reports for paper", zap.String("paper_id", paperID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, reports)
	})
}

func setupReportRoutes(router *gin.Engine, db *gorm.DB, cfg *config.Config, log *zap.Logger) {
	rg := router.Group("/reports")

	rg.GET("/", func(c *gin.Context) {
		query := db.Model(&models.Report{})
		if status := c.Query("status"); status != "" {
			query = query.Where("status = ?", status)
		}
		limit := 100
		if l, err := strconv.Atoi(c.DefaultQuery("limit", "100")); err == nil && l > 0 {
			limit = l
		}
		query = query.Limit(limit)

		var reports []models.Report
		if err := query.Order("created_at desc").Find(&reports).Error; err != nil {
			log.Error("Database query for reports failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, reports)
	})

	rg.GET("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var report models.Report
		if err := db.First(&report, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
				return
			}
			log.Error("DB error fetching report", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, report)
	})

	// Liefert das gerenderte Markdown-Dokument eines Reports aus.
	rg.GET("/:id/markdown", func(c *gin.Context) {
		id := c.Param("id")
		var report models.Report
		if err := db.First(&report, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if report.MarkdownPath == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "no markdown file for this report"})
			return
		}
		// Pfad gegen das Report-Verzeichnis prüfen, bevor die Datei gelesen wird
		cleanPath := filepath.Clean(report.MarkdownPath)
		root := filepath.Clean(cfg.StorageReportsPath)
		if rel, err := filepath.Rel(root, cleanPath); err != nil || strings.HasPrefix(rel, "..") {
			log.Warn("Markdown path outside reports root", zap.String("path", report.MarkdownPath))
			c.JSON(http.StatusNotFound, gin.H{"error": "markdown file not available"})
			return
		}
		data, err := os.ReadFile(cleanPath)
		if err != nil {
			log.Error("Markdown file could not be read", zap.String("path", cleanPath), zap.Error(err))
			c.JSON(http.StatusNotFound, gin.H{"error": "markdown file not available"})
			return
		}
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", data)
	})
}

func setupTaskRoutes(router *gin.Engine, db *gorm.DB, orchestrator *services.Orchestrator, taskRunner *services.TaskRunner, log *zap.Logger) {
	rg := router.Group("/tasks")

	rg.GET("/", func(c *gin.Context) {
		query := db.Model(&models.Task{})
		if taskType := c.Query("task_type"); taskType != "" {
			query = query.Where("task_type = ?", taskType)
		}
		if status := c.Query("status"); status != "" {
			query = query.Where("status = ?", status)
		}
		limit := 100
		if l, err := strconv.Atoi(c.DefaultQuery("limit", "100")); err == nil && l > 0 {
			limit = l
		}
		var tasks []models.Task
		if err := query.Limit(limit).Order("created_at desc").Find(&tasks).Error; err != nil {
			log.Error("Database query for tasks failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, tasks)
	})

	rg.GET("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var task models.Task
		if err := db.First(&task, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
				return
			}
			log.Error("DB error fetching task", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, task)
	})

	// POST - Manuellen Crawl anstoßen
	rg.POST("/crawl", func(c *gin.Context) {
		var req struct {
			Source string `json:"source"`
			Date   string `json:"date"`
			Limit  int    `json:"limit"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if req.Source == "" {
			req.Source = "huggingface"
		}

		params := map[string]interface{}{"source": req.Source, "date": req.Date, "limit": req.Limit}
		task, err := taskRunner.RunAsync(context.Background(), models.TaskTypeCrawl, models.TriggerManual, params,
			func(ctx context.Context) (map[string]interface{}, error) {
				result, err := orchestrator.Ingest(ctx, req.Source, req.Date, req.Limit)
				if err != nil {
					return nil, err
				}
				newPapersCounter.Add(float64(result.Saved))
				return map[string]interface{}{
					"total_fetched": result.TotalFetched,
					"saved":         result.Saved,
					"duplicates":    result.Duplicates,
					"failed":        result.Failed,
				}, nil
			})
		if err != nil {
			log.Error("Crawl task could not be created", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create task"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID, "message": "Crawl task triggered.", "status": "accepted"})
	})

	// POST - Report-Generierung anstoßen. Mit paper_id wird genau dieses
	// Paper (neu) analysiert, ohne paper_id alle Paper mit Status NEW.
	rg.POST("/generate", func(c *gin.Context) {
		var req struct {
			PaperID         string `json:"paper_id"`
			LLMProvider     string `json:"llm_provider"`
			Limit           int    `json:"limit"`
			ForceRegenerate bool   `json:"force_regenerate"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		if req.PaperID != "" {
			// Paper-Existenz synchron prüfen, damit der Aufrufer ein 404 bekommt
			var paper models.Paper
			if err := db.Where("paper_id = ?", req.PaperID).First(&paper).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					c.JSON(http.StatusNotFound, gin.H{"error": "paper not found"})
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
				return
			}

			params := map[string]interface{}{
				"paper_id": req.PaperID, "llm_provider": req.LLMProvider,
				"force_regenerate": req.ForceRegenerate,
			}
			task, err := taskRunner.RunAsync(context.Background(), models.TaskTypeGenerateSingle, models.TriggerManual, params,
				func(ctx context.Context) (map[string]interface{}, error) {
					report, err := orchestrator.Regenerate(ctx, req.PaperID, req.LLMProvider)
					if err != nil {
						reportFailuresCounter.Inc()
						return nil, err
					}
					reportsGeneratedCounter.Inc()
					return map[string]interface{}{"report_id": report.ID, "markdown_path": report.MarkdownPath}, nil
				})
			if err != nil {
				log.Error("Generate task could not be created", zap.String("paper_id", req.PaperID), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create task"})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID, "message": "Report generation for paper triggered.", "status": "accepted"})
			return
		}

		params := map[string]interface{}{"llm_provider": req.LLMProvider, "limit": req.Limit}
		task, err := taskRunner.RunAsync(context.Background(), models.TaskTypeGenerateBatch, models.TriggerManual, params,
			func(ctx context.Context) (map[string]interface{}, error) {
				result, err := orchestrator.AnalyzeBatch(ctx, req.LLMProvider, req.Limit)
				if err != nil {
					return nil, err
				}
				reportsGeneratedCounter.Add(float64(result.Success))
				reportFailuresCounter.Add(float64(result.Failed))
				return map[string]interface{}{
					"total_processed": result.TotalProcessed,
					"success":         result.Success,
					"failed":          result.Failed,
				}, nil
			})
		if err != nil {
			log.Error("Batch generate task could not be created", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create task"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID, "message": "Batch report generation triggered.", "status": "accepted"})
	})
}
