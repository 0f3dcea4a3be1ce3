package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gatewarden/warden_api/model"
	"github.com/gatewarden/warden_api/shared"

	appContext "github.com/alphabatem/common/context"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"
)

// ExportService enforces data retention: raw window events age out after a
// day, violations and suspicious activity are archived to object storage
// before deletion. Rows are only deleted once their archive upload succeeded.
type ExportService struct {
	appContext.DefaultService

	sqlSvc *PostgresService

	client     *minio.Client
	bucketName string
	endpoint   string
	accessKey  string
	secretKey  string
	useSSL     bool

	windowEventRetention time.Duration
	violationRetention   time.Duration
	suspiciousRetention  time.Duration

	closed chan struct{}
}

const EXPORT_SVC = "export_svc"

func (svc ExportService) Id() string {
	return EXPORT_SVC
}

func (svc *ExportService) Configure(ctx *appContext.Context) error {
	svc.endpoint = os.Getenv("MINIO_ENDPOINT")
	if svc.endpoint == "" {
		svc.endpoint = "localhost:9000"
	}

	svc.accessKey = os.Getenv("MINIO_ACCESS_KEY")
	if svc.accessKey == "" {
		svc.accessKey = "admin"
	}

	svc.secretKey = os.Getenv("MINIO_SECRET_KEY")
	if svc.secretKey == "" {
		svc.secretKey = "password123"
	}

	svc.useSSL = os.Getenv("MINIO_USE_SSL") == "true"

	svc.bucketName = os.Getenv("MINIO_BUCKET_NAME")
	if svc.bucketName == "" {
		svc.bucketName = "warden-archive"
	}

	svc.windowEventRetention = envDurationSeconds("RETENTION_WINDOW_EVENTS_SECONDS", 24*time.Hour)
	svc.violationRetention = envDurationSeconds("RETENTION_VIOLATIONS_SECONDS", 30*24*time.Hour)
	svc.suspiciousRetention = envDurationSeconds("RETENTION_SUSPICIOUS_SECONDS", 90*24*time.Hour)

	return svc.DefaultService.Configure(ctx)
}

func (svc *ExportService) Start() error {
	svc.sqlSvc = svc.Service(POSTGRES_SVC).(*PostgresService)
	svc.closed = make(chan struct{}, 1)

	client, err := minio.New(svc.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(svc.accessKey, svc.secretKey, ""),
		Secure: svc.useSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to create MinIO client: %v", err)
	}
	svc.client = client

	if err := svc.ensureBucket(); err != nil {
		// Archives are disabled until the bucket is reachable; window event
		// pruning carries on regardless.
		log.WithError(err).Warn("Archive bucket unavailable")
	}

	go svc.sweepLoop()
	return nil
}

func (svc *ExportService) Shutdown() {
	svc.closed <- struct{}{}
}

func (svc *ExportService) ensureBucket() error {
	ctx := context.Background()

	exists, err := svc.client.BucketExists(ctx, svc.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %v", err)
	}

	if !exists {
		if err := svc.client.MakeBucket(ctx, svc.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %v", err)
		}
		log.WithField("bucket", svc.bucketName).Info("Created archive bucket")
	}

	return nil
}

// sweepLoop prunes window events hourly and runs the archive sweeps once a
// day.
func (svc *ExportService) sweepLoop() {
	hourly := time.NewTicker(time.Hour)
	daily := time.NewTicker(24 * time.Hour)
	defer hourly.Stop()
	defer daily.Stop()

	for {
		select {
		case <-hourly.C:
			svc.sweepWindowEvents()
		case <-daily.C:
			svc.sweepViolations()
			svc.sweepSuspicious()
		case <-svc.closed:
			return
		}
	}
}

func (svc *ExportService) sweepWindowEvents() {
	cutoff := time.Now().Add(-svc.windowEventRetention)

	result := svc.sqlSvc.Db().
		Where("timestamp < ?", cutoff).
		Delete(&model.RateWindowEvent{})
	if result.Error != nil {
		log.WithError(result.Error).Error("Window event sweep failed")
		return
	}
	if result.RowsAffected > 0 {
		log.WithField("rows", result.RowsAffected).Info("Pruned window events")
	}
}

func (svc *ExportService) sweepViolations() {
	cutoff := time.Now().Add(-svc.violationRetention)

	var rows []model.RateLimitViolation
	if err := svc.sqlSvc.Db().Where("timestamp < ?", cutoff).Find(&rows).Error; err != nil {
		log.WithError(err).Error("Violation sweep query failed")
		return
	}
	if len(rows) == 0 {
		return
	}

	objectName := fmt.Sprintf("violations/%s.json", time.Now().Format("2006-01-02T15-04-05"))
	if err := svc.archiveJSON(objectName, rows); err != nil {
		log.WithError(err).Error("Violation archive failed, keeping rows")
		return
	}

	result := svc.sqlSvc.Db().Where("timestamp < ?", cutoff).Delete(&model.RateLimitViolation{})
	if result.Error != nil {
		log.WithError(result.Error).Error("Violation sweep delete failed")
		return
	}
	log.WithFields(log.Fields{"rows": result.RowsAffected, "object": objectName}).
		Info("Archived violations")
}

func (svc *ExportService) sweepSuspicious() {
	cutoff := time.Now().Add(-svc.suspiciousRetention)

	var rows []model.SuspiciousActivityLog
	if err := svc.sqlSvc.Db().Where("timestamp < ?", cutoff).Find(&rows).Error; err != nil {
		log.WithError(err).Error("Suspicious activity sweep query failed")
		return
	}
	if len(rows) == 0 {
		return
	}

	objectName := fmt.Sprintf("suspicious/%s.json", time.Now().Format("2006-01-02T15-04-05"))
	if err := svc.archiveJSON(objectName, rows); err != nil {
		log.WithError(err).Error("Suspicious activity archive failed, keeping rows")
		return
	}

	result := svc.sqlSvc.Db().Where("timestamp < ?", cutoff).Delete(&model.SuspiciousActivityLog{})
	if result.Error != nil {
		log.WithError(result.Error).Error("Suspicious activity sweep delete failed")
		return
	}
	log.WithFields(log.Fields{"rows": result.RowsAffected, "object": objectName}).
		Info("Archived suspicious activity")
}

func (svc *ExportService) archiveJSON(objectName string, v interface{}) error {
	data, err := shared.MarshalJSON(v)
	if err != nil {
		return fmt.Errorf("failed to serialize archive payload: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	_, err = svc.client.PutObject(ctx, svc.bucketName, objectName,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: "application/json",
		})
	if err != nil {
		return fmt.Errorf("failed to upload archive to MinIO: %v", err)
	}
	return nil
}
