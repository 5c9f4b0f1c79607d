// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package api

import (
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// OperatorHeader identifies the operator of a request
const OperatorHeader = "X-Operator-ID"

const operatorKey = "operator"

// NewRouter registers the operator routes. Every route requires an
// operator from admins.
func NewRouter(h *Handler, admins []int64) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), cors.Default())

	v1 := r.Group("/api/v1", RequireOperator(admins))
	{
		v1.GET("/queue", h.GetQueue)
		v1.DELETE("/queue", h.ClearQueue)

		v1.POST("/jobs", h.AddJob)
		v1.DELETE("/jobs/current", h.CancelCurrent)
		v1.GET("/jobs/:id", h.GetJob)

		v1.GET("/status", h.Status)
		v1.GET("/skills", h.Skills)
		v1.POST("/skills/reload", h.ReloadSkills)
	}

	return r
}

// RequireOperator rejects requests whose operator header is not an admin
func RequireOperator(admins []int64) gin.HandlerFunc {
	allowed := make(map[int64]bool, len(admins))
	for _, id := range admins {
		allowed[id] = true
	}

	return func(c *gin.Context) {
		header := c.GetHeader(OperatorHeader)
		if header == "" {
			errResp(c, http.StatusUnauthorized, "Missing operator", OperatorHeader+" header required")
			c.Abort()
			return
		}
		id, err := strconv.ParseInt(header, 10, 64)
		if err != nil || !allowed[id] {
			errResp(c, http.StatusForbidden, "Not an operator", header)
			c.Abort()
			return
		}
		c.Set(operatorKey, id)
		c.Next()
	}
}

func operator(c *gin.Context) int64 {
	return c.GetInt64(operatorKey)
}
