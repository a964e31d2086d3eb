// services/submission.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bounty-payout-system/models"
	"bounty-payout-system/utils"
)

// SubmissionService handles candidate entries: intake, repo provisioning
// hand-off and deliverable artifact upload.
type SubmissionService struct {
	DB        *gorm.DB
	queue     Enqueuer
	notifier  *Notifier
	artifacts *utils.ArtifactStore
}

func NewSubmissionService(db *gorm.DB, queue Enqueuer, notifier *Notifier, artifacts *utils.ArtifactStore) *SubmissionService {
	return &SubmissionService{DB: db, queue: queue, notifier: notifier, artifacts: artifacts}
}

// Submit creates the candidate's entry for an open, funded, in-deadline
// bounty, at most once per (bounty, candidate).
func (s *SubmissionService) Submit(ctx context.Context, candidateID, bountyID, repoURL, prURL string) (*models.Submission, error) {
	var bounty models.Bounty
	if err := s.DB.First(&bounty, "id = ?", bountyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load bounty: %w", err)
	}

	if bounty.Status != models.BountyStatusOpen {
		return nil, ErrBountyNotOpen
	}
	if time.Now().After(bounty.SubmissionDeadline) {
		return nil, ErrDeadlinePassed
	}
	if bounty.OnchainBountyID == nil {
		return nil, ErrBountyNotFunded
	}
	var funding models.BountyFunding
	if err := s.DB.First(&funding, "bounty_id = ?", bounty.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBountyNotFunded
		}
		return nil, fmt.Errorf("failed to load funding: %w", err)
	}

	var block models.EmployerBlock
	err := s.DB.First(&block, "employer_id = ? AND candidate_id = ?", bounty.EmployerID, candidateID).Error
	if err == nil {
		return nil, ErrCandidateBlocked
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check employer blocks: %w", err)
	}

	submission := models.Submission{
		ID:             uuid.NewString(),
		BountyID:       bounty.ID,
		CandidateID:    candidateID,
		RepoURL:        repoURL,
		PullRequestURL: prURL,
		ReviewStatus:   models.ReviewStatusPending,
		SubmittedAt:    time.Now(),
	}
	insert := s.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&submission)
	if insert.Error != nil {
		return nil, fmt.Errorf("failed to insert submission: %w", insert.Error)
	}
	if insert.RowsAffected == 0 {
		return nil, ErrDuplicateSubmission
	}

	if err := s.queue.Enqueue(models.QueueRepoProvision, models.JSONMap{
		"bountyId":        bounty.ID,
		"candidateId":     candidateID,
		"repoSlug":        slug.Make(bounty.JobTitle),
		"repoTemplateUrl": bounty.RepoTemplateURL,
	}); err != nil {
		log.Printf("[Submission] Failed to enqueue repo provisioning for %s: %v", submission.ID, err)
	}

	var employer models.User
	if err := s.DB.First(&employer, "id = ?", bounty.EmployerID).Error; err == nil &&
		employer.Email != "" && employer.EmailNotifications {
		s.notifier.Notify(employer.Email, "new_submission", models.JSONMap{
			"title": bounty.JobTitle,
		})
	}

	return &submission, nil
}

// HandleSubmit is the POST /api/bounties/:id/submit handler (candidate only).
func (s *SubmissionService) HandleSubmit(c *fiber.Ctx) error {
	candidateID := c.Locals("user_id").(string)

	var req struct {
		RepoURL        string `json:"repoUrl"`
		PullRequestURL string `json:"pullRequestUrl"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.RepoURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "repoUrl is required"})
	}

	submission, err := s.Submit(c.Context(), candidateID, c.Params("id"), req.RepoURL, req.PullRequestURL)
	if err != nil {
		return respondServiceError(c, err, "Failed to create submission")
	}
	return c.Status(fiber.StatusCreated).JSON(submission)
}

// HandleArtifact is the POST /api/submissions/:id/artifact handler: streams a
// deliverable archive to object storage and records its URL.
func (s *SubmissionService) HandleArtifact(c *fiber.Ctx) error {
	candidateID := c.Locals("user_id").(string)
	submissionID := c.Params("id")

	if s.artifacts == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Artifact storage is not configured"})
	}

	var submission models.Submission
	if err := s.DB.First(&submission, "id = ? AND candidate_id = ?", submissionID, candidateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Submission not found"})
		}
		return respondServiceError(c, err, "Failed to load submission")
	}

	fileHeader, err := c.FormFile("artifact")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "artifact file is required"})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return respondServiceError(c, err, "Failed to read artifact")
	}
	defer file.Close()

	ext := filepath.Ext(fileHeader.Filename)
	name := slug.Make(fileHeader.Filename[:len(fileHeader.Filename)-len(ext)])
	key := fmt.Sprintf("submissions/%s/%s%s", submission.ID, name, ext)

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	url, err := s.artifacts.Upload(c.Context(), key, contentType, file)
	if err != nil {
		return respondServiceError(c, err, "Failed to store artifact")
	}

	if err := s.DB.Model(&models.Submission{}).
		Where("id = ?", submission.ID).
		Update("artifact_url", url).Error; err != nil {
		return respondServiceError(c, err, "Failed to record artifact")
	}

	return c.JSON(fiber.Map{"ok": true, "artifactUrl": url})
}
