package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"juninpagos/backend/internal/auth"
	"juninpagos/backend/internal/auth/jwt"
	"juninpagos/backend/internal/service"
	"juninpagos/backend/internal/storage"
)

// 通用错误消息
const (
	MsgInvalidJSON        = "JSON invalido en el cuerpo de la solicitud"
	MsgInvalidID          = "ID inválido"
	MsgIDRequired         = "ID requerido"
	MsgInternal           = "Error interno del servidor"
	MsgUnauthorized       = "No autorizado"
	MsgInvalidCredentials = "Credenciales inválidas"
	MsgUserInactive       = "Usuario desactivado"
	MsgLeadNotFound       = "Lead no encontrado"
	MsgEmailNotFound      = "Email no encontrado"
	MsgThreadNotFound     = "Conversación no encontrada"
	MsgTemplateNotFound   = "Plantilla no encontrada"
	MsgTemplateExists     = "Ya existe una plantilla con ese nombre"
	MsgProviderFailed     = "Error al enviar el email"
	MsgInvalidSignature   = "Firma de webhook inválida"
	MsgDuplicate          = "El recurso ya existe"
	MsgRateLimited        = "Demasiadas solicitudes. Intenta en unos minutos."
	MsgMissingRequestedBy = "Solicitud no valida"
	MsgUnsupportedMedia   = "Content-Type debe ser application/json"
	MsgMethodNotAllowed   = "Método no permitido"
	MsgContactAccepted    = "Consulta recibida correctamente"
	MsgLeadDeleted        = "Lead eliminado correctamente"
	MsgEmailMovedToTrash  = "Email movido a la papelera"
	MsgEmailDeleted       = "Email eliminado permanentemente"
	MsgThreadArchived     = "Conversación archivada"
	MsgThreadDeleted      = "Conversación eliminada"
	MsgTemplateDeleted    = "Plantilla eliminada"
	MsgLoggedOut          = "Session cleared"
)

// errorStatus maps a service or storage error to its status code and user
// message. ok is false for unexpected errors.
func errorStatus(err error) (status int, msg string, ok bool) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, service.ValidationMessage(err), true
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUserNotFound):
		return http.StatusUnauthorized, MsgInvalidCredentials, true
	case errors.Is(err, auth.ErrUserInactive):
		return http.StatusUnauthorized, MsgUserInactive, true
	case errors.Is(err, jwt.ErrInvalidToken), errors.Is(err, jwt.ErrExpiredToken), errors.Is(err, jwt.ErrRevokedToken):
		return http.StatusUnauthorized, MsgUnauthorized, true
	case errors.Is(err, service.ErrInvalidSignature):
		return http.StatusUnauthorized, MsgInvalidSignature, true
	case errors.Is(err, service.ErrLeadNotFound):
		return http.StatusNotFound, MsgLeadNotFound, true
	case errors.Is(err, service.ErrEmailNotFound):
		return http.StatusNotFound, MsgEmailNotFound, true
	case errors.Is(err, service.ErrThreadNotFound):
		return http.StatusNotFound, MsgThreadNotFound, true
	case errors.Is(err, service.ErrTemplateNotFound):
		return http.StatusNotFound, MsgTemplateNotFound, true
	case errors.Is(err, service.ErrTemplateExists):
		return http.StatusConflict, MsgTemplateExists, true
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "Recurso no encontrado", true
	case errors.Is(err, storage.ErrDuplicate):
		return http.StatusConflict, MsgDuplicate, true
	case errors.Is(err, service.ErrProviderFailed):
		return http.StatusInternalServerError, MsgProviderFailed, true
	}
	return http.StatusInternalServerError, MsgInternal, false
}

// respondError 统一错误响应，未知错误记录日志后返回 500
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status, msg, ok := errorStatus(err)
	if !ok || status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	Error(c, status, msg)
}
