// Package config 负责加载编排引擎的启动配置。配置文件可以是 JSON 或 YAML，
// 加载后统一补全默认值，相对路径以配置文件所在目录为基准。
package config
