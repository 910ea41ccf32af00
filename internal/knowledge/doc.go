// Package knowledge 提供离线知识库检索，供 knowledge_lookup 工具使用。
package knowledge
