package handlers

import (
	"net/http"

	"ridedispatch/internal/middleware"
	"ridedispatch/internal/services"
	"ridedispatch/internal/utils"
	"ridedispatch/internal/validators"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var kindStatus = map[services.ErrorKind]int{
	services.KindValidation:    http.StatusBadRequest,
	services.KindConflict:      http.StatusConflict,
	services.KindNotFound:      http.StatusNotFound,
	services.KindAuthorization: http.StatusForbidden,
	services.KindCapacity:      http.StatusServiceUnavailable,
	services.KindInternal:      http.StatusInternalServerError,
}

// respondError writes a service error with the status its kind maps to.
// Internal causes are never echoed to the client.
func respondError(c *gin.Context, err error) {
	de := services.AsDispatchError(err)
	status, ok := kindStatus[de.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		utils.InternalServerErrorResponse(c)
		return
	}
	utils.ErrorResponse(c, status, de.Code, de.Message)
}

// bindJSON decodes and validates the body into req. It writes the error
// response itself and reports whether the handler may continue.
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return false
	}
	if errs := validators.ValidateStruct(req); errs != nil {
		utils.ValidationErrorResponse(c, errs.Details())
		return false
	}
	return true
}

func currentUser(c *gin.Context) (primitive.ObjectID, string, bool) {
	userID, userType, ok := middleware.CurrentUser(c)
	if !ok {
		utils.UnauthorizedResponse(c)
		return primitive.NilObjectID, "", false
	}
	return userID, userType, true
}

func pathID(c *gin.Context, name, resource string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid "+resource+" ID")
		return primitive.NilObjectID, false
	}
	return id, true
}
