// 版权所有 2024 VoiceBridge Authors. 版权所有。
// 此源代码的使用受 BSD 风格许可证约束。

/*
Package testutil 提供 VoiceBridge 测试的共享工具和辅助函数。

# 概述

testutil 包为整个项目的单元测试与基准测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。所有测试应优先使用此包
中的工具函数和 Mock 实现。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertMessagesEqual / AssertJSONEqual /
    AssertNoError / AssertError 等
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual / WaitForChannel，
    支持超时轮询等待条件满足
  - 数据工具: MustJSON / MustParseJSON / CopyMessages，
    简化测试数据构造与深拷贝

# 子包

  - testutil/mocks: Mock 实现，包括 MockProvider（LLM Provider）与
    MockSynthesizer（TTS Provider），基于可注入回调构造任意行为
  - testutil/fixtures: 常用测试数据，包括转写事件载荷与对话样本
*/
package testutil
