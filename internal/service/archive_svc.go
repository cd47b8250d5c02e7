package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// ==================== 配置 ====================

type ArchiveConfig struct {
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Endpoint  string // 自定义端点 (S3 兼容存储)
	BasePath  string // 基础路径前缀
}

// objectPutter S3 客户端中用到的部分，便于测试替换
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ==================== S3 归档 ====================

// ArchiveService 将 feed 快照上传到 S3: <base>/feeds/<date>/<uuid>.json
type ArchiveService struct {
	client   objectPutter
	bucket   string
	basePath string
	now      func() time.Time
}

func NewArchiveService(cfg *ArchiveConfig) (*ArchiveService, error) {
	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("加载AWS配置失败: %v", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newArchiveService(client, cfg.Bucket, cfg.BasePath), nil
}

func newArchiveService(client objectPutter, bucket, basePath string) *ArchiveService {
	return &ArchiveService{
		client:   client,
		bucket:   bucket,
		basePath: strings.Trim(basePath, "/"),
		now:      time.Now,
	}
}

// Archive 返回 s3://bucket/key
func (s *ArchiveService) Archive(ctx context.Context, raw []byte) (string, error) {
	key := s.generateKey()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("上传S3失败: %v", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *ArchiveService) generateKey() string {
	name := uuid.New().String() + ".json"
	datePath := s.now().UTC().Format("2006-01-02")
	if s.basePath != "" {
		return fmt.Sprintf("%s/feeds/%s/%s", s.basePath, datePath, name)
	}
	return fmt.Sprintf("feeds/%s/%s", datePath, name)
}
