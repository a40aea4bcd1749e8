package main

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/archive-forge/internal/archive"
)

type yearStatistics interface {
	YearStatistics(ctx context.Context, year int) (*archive.YearStatistics, error)
}

// yearStatsHandler は GET /api/years/:year/stats のハンドラーを返します。
func yearStatsHandler(catalog yearStatistics) gin.HandlerFunc {
	return func(c *gin.Context) {
		year, err := strconv.Atoi(c.Param("year"))
		if err != nil || year <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "年は正の整数で指定してください。",
			})
			return
		}
		stats, err := catalog.YearStatistics(c.Request.Context(), year)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "統計情報の取得に失敗しました。",
			})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
