package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"licensemarket/internal/accounts"
	"licensemarket/internal/middleware"
	"licensemarket/internal/orders"
)

type AccountHandler struct {
	Accounts *accounts.Service
	Orders   *orders.Service
	// AccountPage is where the Stripe Connect redirect sends the seller
	// once connected.
	AccountPage string
}

func NewAccountHandler(svc *accounts.Service, orderSvc *orders.Service, accountPage string) *AccountHandler {
	return &AccountHandler{Accounts: svc, Orders: orderSvc, AccountPage: accountPage}
}

func (h *AccountHandler) GetMyAccount(c *gin.Context) {
	account := middleware.Account(c)
	c.JSON(http.StatusOK, gin.H{
		"handle":    account.Handle,
		"email":     account.Email,
		"name":      account.Name,
		"location":  account.Location,
		"urls":      account.URLs,
		"created":   account.Created,
		"projects":  account.Projects,
		"badges":    account.Badges,
		"connected": account.Stripe.Connected,
	})
}

type ChangePasswordRequest struct {
	Old      string `json:"old" binding:"required"`
	Password string `json:"password" binding:"required"`
	Repeat   string `json:"repeat" binding:"required"`
}

func (h *AccountHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	handle := middleware.Account(c).Handle
	if err := h.Accounts.ChangePassword(c.Request.Context(), handle, req.Old, req.Password, req.Repeat); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password changed."})
}

type ChangeEmailRequest struct {
	Email string `json:"email" binding:"required"`
}

func (h *AccountHandler) ChangeEmail(c *gin.Context) {
	var req ChangeEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	handle := middleware.Account(c).Handle
	if err := h.Accounts.RequestEmailChange(c.Request.Context(), handle, req.Email); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Confirmation e-mail sent."})
}

func (h *AccountHandler) CreateProject(c *gin.Context) {
	var req accounts.NewProject
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	project, err := h.Accounts.CreateProject(c.Request.Context(), middleware.Account(c).Handle, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

// Connect returns the Stripe Connect authorization URL for the seller.
func (h *AccountHandler) Connect(c *gin.Context) {
	url, err := h.Accounts.ConnectURL(c.Request.Context(), middleware.Account(c).Handle)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Connected is the Stripe Connect OAuth redirect target.
func (h *AccountHandler) Connected(c *gin.Context) {
	var cb accounts.ConnectCallback
	if err := c.ShouldBindQuery(&cb); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Accounts.CompleteConnect(c.Request.Context(), middleware.Account(c).Handle, cb); err != nil {
		respondError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, h.AccountPage)
}

// Disconnect asks Stripe to deauthorize the seller. The account changes
// when Stripe's webhook confirms.
func (h *AccountHandler) Disconnect(c *gin.Context) {
	if err := h.Accounts.Disconnect(c.Request.Context(), middleware.Account(c).Handle); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Stripe has been told to disconnect your account. The change should take effect shortly."})
}

func (h *AccountHandler) GetMyPurchases(c *gin.Context) {
	purchases, err := h.Orders.Purchases(c.Request.Context(), middleware.Account(c).Email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, purchases)
}

func (h *AccountHandler) GetUser(c *gin.Context) {
	account, err := h.Accounts.PublicAccount(c.Request.Context(), c.Param("handle"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *AccountHandler) GetProject(c *gin.Context) {
	project, err := h.Accounts.PublicProject(c.Request.Context(), c.Param("handle"), c.Param("project"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}
