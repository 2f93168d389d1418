// Package archive stores a JSON summary of every finished match in an
// S3-compatible bucket.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	qconfig "quizduel/internal/config"
	"quizduel/internal/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
}

// Nop discards archives. It is used when no bucket is configured.
type Nop struct{}

func (Nop) ArchiveMatch(context.Context, store.Match, []store.MatchRound) error { return nil }

// Enabled reports whether cfg names a bucket to archive into.
func Enabled(cfg qconfig.ServerConfig) bool {
	return strings.TrimSpace(cfg.ArchiveBucket) != ""
}

func NewS3Archiver(ctx context.Context, cfg qconfig.ServerConfig) (*S3Archiver, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.ArchiveRegion)}
	if cfg.ArchiveAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.ArchiveAccessKey, cfg.ArchiveSecretKey, "",
		)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load archive s3 config: %w", err)
	}
	endpoint := strings.TrimSpace(cfg.ArchiveEndpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Archiver(client, cfg.ArchiveBucket, cfg.ArchivePrefix), nil
}

func newS3Archiver(client objectPutter, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: strings.TrimSpace(bucket), prefix: prefix}
}

func (a *S3Archiver) Key(matchID string) string {
	return a.prefix + matchID + ".json"
}

func (a *S3Archiver) ArchiveMatch(ctx context.Context, m store.Match, rounds []store.MatchRound) error {
	body, err := json.Marshal(NewSummary(m, rounds))
	if err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(m.ID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put match archive %s: %w", m.ID, err)
	}
	return nil
}

type Summary struct {
	MatchID     string         `json:"match_id"`
	OfferID     string         `json:"offer_id"`
	P1          string         `json:"p1"`
	P2          string         `json:"p2"`
	Subject     string         `json:"subject"`
	Level       string         `json:"level"`
	P1Score     int            `json:"p1_score"`
	P2Score     int            `json:"p2_score"`
	WinnerID    string         `json:"winner_id,omitempty"`
	EndReason   string         `json:"end_reason"`
	CreatedAt   time.Time      `json:"created_at"`
	EndedAt     *time.Time     `json:"ended_at,omitempty"`
	Rounds      []RoundSummary `json:"rounds"`
	ArchivedFor string         `json:"archived_for,omitempty"`
}

type RoundSummary struct {
	RoundIndex  int                  `json:"round_index"`
	QuestionID  string               `json:"question_id"`
	P1Delta     int                  `json:"p1_delta"`
	P2Delta     int                  `json:"p2_delta"`
	Results     []store.PlayerResult `json:"results"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

func NewSummary(m store.Match, rounds []store.MatchRound) Summary {
	out := Summary{
		MatchID:   m.ID,
		OfferID:   m.OfferID,
		P1:        m.P1,
		P2:        m.P2,
		Subject:   m.Subject,
		Level:     m.Level,
		P1Score:   m.P1Score,
		P2Score:   m.P2Score,
		WinnerID:  m.WinnerID,
		EndReason: m.EndReason,
		CreatedAt: m.CreatedAt,
		EndedAt:   m.EndedAt,
		Rounds:    make([]RoundSummary, 0, len(rounds)),
	}
	if m.SelfPlay() {
		out.ArchivedFor = "self_play"
	}
	for _, r := range rounds {
		out.Rounds = append(out.Rounds, RoundSummary{
			RoundIndex:  r.RoundIndex,
			QuestionID:  r.QuestionID,
			P1Delta:     r.P1Delta,
			P2Delta:     r.P2Delta,
			Results:     r.Results,
			CompletedAt: r.CompletedAt,
		})
	}
	return out
}
