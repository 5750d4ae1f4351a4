package zalopay

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// 网关按越南时间 (GMT+7) 校验 app_trans_id 的日期前缀
var gatewayZone = time.FixedZone("ICT", 7*60*60)

// NewAppTransID 生成 yyMMdd_NNNNNN 格式的商户交易号
// 同一次逻辑下单的所有重试必须复用同一个值
func NewAppTransID(now time.Time) string {
	return fmt.Sprintf("%s_%06d", now.In(gatewayZone).Format("060102"), rand.IntN(1000000))
}
