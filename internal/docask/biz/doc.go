// Package biz 提供 DocAsk 的业务逻辑层。
//
// 该包拆分为以下组件：
//   - Ingestor: 文档摄取状态机（提取、分块、向量化、写入索引）
//   - Retriever: 问答编排（问题向量化、检索、上下文组装、生成）
//   - AnswerCache: 基于 Redis 的答案缓存
//
// 索引、供应商、存储与协程池都由 docask.Server 构建后注入。
package biz
