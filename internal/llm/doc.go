// Package llm 定义规划能力的统一接口：给定提示词与可选的响应结构，返回文本。
// 具体后端位于子包：openai（HTTP）、gemini（google.golang.org/genai）、
// pythonbridge（外部脚本）。
package llm
