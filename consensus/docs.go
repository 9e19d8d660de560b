package consensus

//
//                 +--------------+
//   not a miner   |     Idle     |  info generator / 唯一的出块者
//  <--------------+              +------------------+
//                 +------+-------+                  v
//                        | 收到第一轮信息      +--------------+
//                        |                     | Initializing |
//                        v                     +------+-------+
//          +----------------------------+             | InitializeConsensus区块提交
//          |   ProducingFirstRounds     | <-----------+
//          |  (round 1, 2 事先生成)      |
//          +-------------+--------------+
//                        | UpdateRound
//                        v
//          +----------------------------+  EventConsensusPause   +--------+
//          | Steady                     | ---------------------> | Paused |
//          |  own slot: PublishInValue  | <--------------------- +--------+
//          |            PublishOutValue |  EventConsensusResume
//          |  extra slot: UpdateRound   |
//          +----------------------------+

// DPoS - 共识调度器，只决定什么时候出块，不负责区块的校验和执行
//	- slot.Schedule - 每一轮的定时任务：自己的时间槽、extra block时间槽、备用节点补位
//	- inOutValue - 本轮生成的InValue，下一轮公布
//	- state.Miner - 打包交易、签名区块，交给同步器执行
//	- ConsensusState - 从最高区块对应的快照读取，调度器自身不保存轮次信息
// 同步器每提交一个区块触发EventBlockExecuted，调度器据此调用Update
