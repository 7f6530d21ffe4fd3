package enums

// OutboxEventType names a domain event stored in outbox_events.
type OutboxEventType string

const (
	EventOrderStatusChanged    OutboxEventType = "order.status_changed"
	EventDeliveryStatusChanged OutboxEventType = "delivery.status_changed"
	EventStockBelowReorder     OutboxEventType = "stock.below_reorder_point"
	EventTaskOverdue           OutboxEventType = "task.overdue"
	EventProofCaptured         OutboxEventType = "delivery.proof_captured"
	EventQROverrideUsed        OutboxEventType = "delivery.qr_override_used"
)

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder     OutboxAggregateType = "order"
	AggregateDelivery  OutboxAggregateType = "delivery"
	AggregateStockItem OutboxAggregateType = "stock_item"
	AggregateTask      OutboxAggregateType = "task"
)
