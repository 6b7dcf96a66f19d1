package handler

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79"

	"github.com/qs3c/ledger_go_server/internal/billing"
	"github.com/qs3c/ledger_go_server/internal/pkg/alert"
	"github.com/qs3c/ledger_go_server/internal/service"
)

const maxWebhookBodyBytes = int64(65536)

type EventVerifier interface {
	VerifyEvent(payload []byte, signature string) (stripe.Event, error)
}

type WebhookHandler struct {
	verifier            EventVerifier
	subscriptionService *service.SubscriptionService
	notifier            *alert.Notifier
}

func NewWebhookHandler(verifier EventVerifier, subscriptionService *service.SubscriptionService, notifier *alert.Notifier) *WebhookHandler {
	return &WebhookHandler{
		verifier:            verifier,
		subscriptionService: subscriptionService,
		notifier:            notifier,
	}
}

// Stripe 接收 Stripe 事件
// POST /api/v1/webhooks/stripe
//
// 这里返回真实的 HTTP 状态码：Stripe 根据状态码决定是否重发。
func (h *WebhookHandler) Stripe(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	event, err := h.verifier.VerifyEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		log.Printf("Webhook signature verification failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	billingEvent, err := billing.ToBillingEvent(event, h.subscriptionService.Now())
	if err != nil {
		if errors.Is(err, billing.ErrUnhandledEvent) {
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		// 签名有效但内容无法解析，重发也没用
		h.fail(c, event, payload, err, http.StatusOK)
		return
	}

	if err := h.subscriptionService.Apply(c.Request.Context(), billingEvent); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrUserResolution) {
			status = http.StatusOK
		}
		h.fail(c, event, payload, err, status)
		return
	}

	log.Printf("Webhook %s (%s) processed", event.ID, event.Type)
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *WebhookHandler) fail(c *gin.Context, event stripe.Event, payload []byte, err error, status int) {
	log.Printf("Webhook %s (%s) failed: %v", event.ID, event.Type, err)

	h.notifier.Notify(c.Request.Context(), alert.Failure{
		EventID: event.ID,
		Type:    string(event.Type),
		Payload: payload,
		Err:     err,
	})

	if status == http.StatusOK {
		c.JSON(http.StatusOK, gin.H{"received": true, "error": err.Error()})
		return
	}
	c.JSON(status, gin.H{"error": "processing failed"})
}
