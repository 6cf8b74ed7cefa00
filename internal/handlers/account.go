package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"roomlens/internal/models"
)

type transactionResponse struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Amount       int       `json:"amount"`
	ResourceRef  string    `json:"resourceRef"`
	BalanceAfter int       `json:"balanceAfter"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (h HandlerSet) Usage(c *gin.Context) {
	user, ok := middlewareUser(c)
	if !ok {
		return
	}

	account, transactions, err := h.metering.Account(c.Request.Context(), user.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	items := make([]transactionResponse, 0, len(transactions))
	for _, tx := range transactions {
		items = append(items, transactionResponse{
			ID:           tx.ID,
			Type:         string(tx.Type),
			Amount:       tx.Amount,
			ResourceRef:  tx.ResourceRef,
			BalanceAfter: tx.BalanceAfter,
			CreatedAt:    tx.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"account": gin.H{
			"consumed":  account.Consumed,
			"limit":     account.Limit,
			"remaining": account.Remaining(),
		},
		"transactions": items,
	})
}

type strikeResponse struct {
	ID        string    `json:"id"`
	FixID     *string   `json:"fixId,omitempty"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h HandlerSet) ListStrikes(c *gin.Context) {
	ownerID := c.Param("ownerId")

	strikes, err := h.strikes.ListByOwner(c.Request.Context(), ownerID, 100)
	if err != nil {
		h.respondError(c, err)
		return
	}

	items := make([]strikeResponse, 0, len(strikes))
	for _, s := range strikes {
		items = append(items, toStrikeResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{"ownerId": ownerID, "strikes": items})
}

func toStrikeResponse(s models.PolicyStrike) strikeResponse {
	return strikeResponse{
		ID:        s.ID,
		FixID:     s.FixID,
		Category:  s.Category,
		CreatedAt: s.CreatedAt,
	}
}
