// Package metrics — prometheus-инструментация engagement-ядра.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PointsCredited — успешные начисления баллов.
	PointsCredited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_points_credited_total",
		Help: "Успешные начисления баллов за досмотр видео",
	})

	// PointsCreditNoop — повторные события, погашенные идемпотентностью.
	PointsCreditNoop = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_points_credit_noop_total",
		Help: "Дубликаты событий начисления, отклонённые ledger'ом",
	})

	// PointsPersistFailures — отказ локального durable-хранилища при начислении.
	PointsPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_points_persist_failures_total",
		Help: "Откаты начисления из-за ошибки персистентности",
	})

	// CommentRollbacks — компенсирующие откаты оптимистичных мутаций.
	CommentRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_comment_rollbacks_total",
		Help: "Откаты оптимистичных мутаций комментариев после отказа удалённого хранилища",
	})

	// CommentResyncs — полные перечитывания дерева после отказа мутации.
	CommentResyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_comment_resyncs_total",
		Help: "Resync-перечитывания дерева комментариев",
	})

	// CommentMutations — оптимистичные мутации по типам.
	CommentMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_comment_mutations_total",
		Help: "Оптимистичные мутации комментариев",
	}, []string{"op"})
)
