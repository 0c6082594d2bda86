package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coherence-signal/backend/internal/storage"
	"github.com/coherence-signal/backend/internal/storage/models"
	"github.com/coherence-signal/backend/internal/storage/sqlite"
	"github.com/coherence-signal/backend/pkg/crypto"
	"github.com/coherence-signal/backend/pkg/logger"
)

type UserHandler struct {
	db     *sqlite.Client
	cipher *crypto.FieldCipher
}

func NewUserHandler(db *sqlite.Client, cipher *crypto.FieldCipher) *UserHandler {
	return &UserHandler{
		db:     db,
		cipher: cipher,
	}
}

func (h *UserHandler) CreateUser(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
		Address  string `json:"address"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Username == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Username is required",
		})
	}

	if _, err := h.db.GetUserByUsername(req.Username); err == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Username already exists",
		})
	} else if !errors.Is(err, storage.ErrNotFound) {
		logger.Error("Failed to check username", zap.Error(err))
		return errorJSON(c, err, "Failed to create user")
	}

	user := &models.User{
		ID:        uuid.New().String(),
		Username:  req.Username,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		IsActive:  true,
	}

	var err error
	if user.EmailEncrypted, err = h.cipher.EncryptField(req.Email); err != nil {
		logger.Error("Failed to encrypt user field", zap.Error(err))
		return errorJSON(c, err, "Failed to create user")
	}
	if user.PhoneEncrypted, err = h.cipher.EncryptField(req.Phone); err != nil {
		logger.Error("Failed to encrypt user field", zap.Error(err))
		return errorJSON(c, err, "Failed to create user")
	}
	if user.AddressEncrypted, err = h.cipher.EncryptField(req.Address); err != nil {
		logger.Error("Failed to encrypt user field", zap.Error(err))
		return errorJSON(c, err, "Failed to create user")
	}

	if err := h.db.CreateUser(user); err != nil {
		logger.Error("Failed to create user", zap.Error(err))
		return errorJSON(c, err, "Failed to create user")
	}

	return c.JSON(userJSON(user))
}

func (h *UserHandler) GetUser(c *fiber.Ctx) error {
	user, err := h.db.GetUser(c.Params("id"))
	if err != nil {
		return errorJSON(c, err, "Failed to get user")
	}

	return c.JSON(userJSON(user))
}

func (h *UserHandler) UpdateUser(c *fiber.Ctx) error {
	var req struct {
		Email    *string `json:"email"`
		Phone    *string `json:"phone"`
		Address  *string `json:"address"`
		IsActive *bool   `json:"is_active"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	user, err := h.db.GetUser(c.Params("id"))
	if err != nil {
		return errorJSON(c, err, "Failed to get user")
	}

	if req.Email != nil {
		if user.EmailEncrypted, err = h.cipher.EncryptField(*req.Email); err != nil {
			return errorJSON(c, err, "Failed to update user")
		}
	}
	if req.Phone != nil {
		if user.PhoneEncrypted, err = h.cipher.EncryptField(*req.Phone); err != nil {
			return errorJSON(c, err, "Failed to update user")
		}
	}
	if req.Address != nil {
		if user.AddressEncrypted, err = h.cipher.EncryptField(*req.Address); err != nil {
			return errorJSON(c, err, "Failed to update user")
		}
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}

	if err := h.db.UpdateUser(user); err != nil {
		logger.Error("Failed to update user", zap.Error(err))
		return errorJSON(c, err, "Failed to update user")
	}

	updated, err := h.db.GetUser(user.ID)
	if err != nil {
		return errorJSON(c, err, "Failed to get user")
	}

	return c.JSON(userJSON(updated))
}

func (h *UserHandler) DeleteUser(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.db.DeleteUser(id); err != nil {
		return errorJSON(c, err, "Failed to delete user")
	}

	return c.JSON(fiber.Map{
		"message": "User deleted successfully",
		"id":      id,
	})
}

func (h *UserHandler) GetUserConversations(c *fiber.Ctx) error {
	userID := c.Params("id")

	if _, err := h.db.GetUser(userID); err != nil {
		return errorJSON(c, err, "Failed to get user")
	}

	conversations, err := h.db.ListConversationsByUser(userID)
	if err != nil {
		logger.Error("Failed to list user conversations", zap.Error(err))
		return errorJSON(c, err, "Failed to list conversations")
	}

	results := make([]fiber.Map, 0, len(conversations))
	for i := range conversations {
		results = append(results, conversationJSON(&conversations[i]))
	}

	return c.JSON(fiber.Map{
		"user_id":            userID,
		"conversation_count": len(results),
		"conversations":      results,
	})
}

// Encrypted personal fields never leave the store through the read schema.
func userJSON(user *models.User) fiber.Map {
	return fiber.Map{
		"id":         user.ID,
		"username":   user.Username,
		"created_at": user.CreatedAt,
		"is_active":  user.IsActive,
	}
}
