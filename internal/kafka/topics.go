// Package kafka 结算事件总线: topic、信封、生产者、消费者、重试与死信
package kafka

// 入站 topic (引擎 → p2p)
const (
	TopicBalanceUpdate        = "balance_update"         // 账户余额快照
	TopicTransactionResult    = "transaction_result"     // 划转执行结果
	TopicAMMPoolUpdate        = "amm_pool_update"        // AMM 池
	TopicAMMPositionUpdate    = "amm_position_update"    // AMM 头寸
	TopicAMMOrderUpdate       = "amm_order_update"       // AMM 订单
	TopicAMMTickUpdate        = "amm_tick_update"        // AMM tick
	TopicMerchantEscrowUpdate = "merchant_escrow_update" // 商家托管余额
	TopicOfferUpdate          = "offer_update"           // 广告状态
	TopicTradeUpdate          = "trade_update"           // 引擎侧交易状态
	TopicBalanceLockUpdate    = "balance_lock_update"    // 余额锁确认
	TopicCoinWithdrawalUpdate = "coin_withdrawal_update" // 链上提币
	TopicTransactionResponse  = "transaction_response"   // 划转请求受理回执
)

// 出站 topic (p2p → 引擎)
const (
	TopicBalanceLockRequest    = "balance_lock_request"
	TopicTransactionRequest    = "transaction_request"
	TopicMerchantEscrowRequest = "merchant_escrow_request"
	TopicTradeEvent            = "trade_event"
)

const deadLetterSuffix = ".dlq"

// InboundTopics 全部入站 topic
func InboundTopics() []string {
	return []string{
		TopicBalanceUpdate,
		TopicTransactionResult,
		TopicAMMPoolUpdate,
		TopicAMMPositionUpdate,
		TopicAMMOrderUpdate,
		TopicAMMTickUpdate,
		TopicMerchantEscrowUpdate,
		TopicOfferUpdate,
		TopicTradeUpdate,
		TopicBalanceLockUpdate,
		TopicCoinWithdrawalUpdate,
		TopicTransactionResponse,
	}
}

// DeadLetterTopic 派生死信 topic
func DeadLetterTopic(topic string) string {
	return topic + deadLetterSuffix
}

// Message Kafka 消息结构
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Partition int32
	Offset    int64
	Timestamp int64
}
