package executor

import (
	"context"

	"go.uber.org/zap"

	"github.com/leadflow/leadflow/pkg/model"
)

// PersonalizationCache generates personalization at most once per
// enrollment. The result is stored on the enrollment and persisted with it.
type PersonalizationCache struct {
	generator Personalizer
	logger    *zap.Logger
}

func NewPersonalizationCache(generator Personalizer, logger *zap.Logger) *PersonalizationCache {
	return &PersonalizationCache{generator: generator, logger: logger}
}

// Ensure returns the personalization for the enrollment, generating and
// caching it when missing. Generator failures fall back to contact fields
// and are not cached, so the next step tries again.
func (c *PersonalizationCache) Ensure(ctx context.Context, program *model.Program, enrollment *model.Enrollment, contact *model.Contact) model.Personalization {
	if cached, ok := enrollment.Personalized(); ok {
		return cached
	}
	if c.generator == nil || contact == nil {
		return fallback(contact)
	}

	p, err := c.generator.GeneratePersonalization(ctx, contact, program)
	if err != nil {
		c.logger.Warn("personalization failed, using contact fields",
			zap.String("enrollment_id", enrollment.ID.String()),
			zap.Error(err),
		)
		return fallback(contact)
	}
	if p.FirstName == "" {
		p.FirstName = contact.FirstName
	}
	enrollment.Personalization = p.JSONB()
	return p
}

func fallback(contact *model.Contact) model.Personalization {
	if contact == nil {
		return model.Personalization{}
	}
	return model.Personalization{FirstName: contact.FirstName}
}
