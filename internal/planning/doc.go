// Package planning 把规划能力的调用包装为三个阶段：战略规划、批量战术规划
// 与单个子目标的重规划。每次调用都经过提示词装配、JSON 解析和带指数退避
// 的有限重试，解析成功后才写入会话简报。
package planning
